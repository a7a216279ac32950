package session

import (
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"go.uber.org/zap"
)

var (
	runFolderPattern  = regexp.MustCompile(`^run_(\d+)$`)
	dateFolderPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// RunManager owns the output folders of one run:
//
//	{outputPath}/{YYYY-MM-DD}/run_N/
//
// The run number is chosen once on Initialize. Crossing into a new trading
// day creates a folder with the same run number under the new date.
type RunManager struct {
	outputPath  string
	location    *time.Location
	runID       string
	runNumber   int
	startedAt   time.Time
	currentDate string
	currentPath string
	mu          sync.Mutex
	log         *logger.Logger
}

// NewRunManager creates a RunManager for runID. Dates are formatted in loc.
func NewRunManager(runID string, loc *time.Location, log *logger.Logger) *RunManager {
	if loc == nil {
		loc = time.UTC
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &RunManager{
		outputPath:  "",
		location:    loc,
		runID:       runID,
		runNumber:   0,
		startedAt:   time.Time{},
		currentDate: "",
		currentPath: "",
		mu:          sync.Mutex{},
		log:         log,
	}
}

// Initialize picks the next free run number for the day of start and creates
// its folder.
func (m *RunManager) Initialize(outputPath string, start time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.outputPath = outputPath
	m.startedAt = start
	m.currentDate = start.In(m.location).Format(dayLayout)

	number, err := m.nextRunNumber(m.currentDate)
	if err != nil {
		return err
	}

	m.runNumber = number

	if err := m.createRunFolder(); err != nil {
		return err
	}

	m.log.Info("Run folder initialized",
		zap.String("run_id", m.runID),
		zap.String("folder", m.folderName()),
		zap.String("date", m.currentDate),
		zap.String("path", m.currentPath),
	)

	return nil
}

//nolint:funcorder // helper for Initialize
func (m *RunManager) nextRunNumber(date string) (int, error) {
	runs, err := listRuns(filepath.Join(m.outputPath, date))
	if err != nil {
		return 0, err
	}

	if len(runs) == 0 {
		return 1, nil
	}

	return runNumberOf(runs[len(runs)-1]) + 1, nil
}

//nolint:funcorder // helper for Initialize and HandleDateBoundary
func (m *RunManager) createRunFolder() error {
	m.currentPath = filepath.Join(m.outputPath, m.currentDate, m.folderName())

	if err := os.MkdirAll(m.currentPath, 0o755); err != nil {
		return errors.Wrapf(errors.ErrCodeWriteFailed, err, "failed to create run folder %s", m.currentPath)
	}

	return nil
}

//nolint:funcorder // helper
func (m *RunManager) folderName() string {
	return "run_" + strconv.Itoa(m.runNumber)
}

// HandleDateBoundary switches to the folder of ts's trading day. It reports
// whether a new folder was created.
func (m *RunManager) HandleDateBoundary(ts time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	date := ts.In(m.location).Format(dayLayout)
	if date == m.currentDate {
		return false, nil
	}

	previous := m.currentDate
	m.currentDate = date

	if err := m.createRunFolder(); err != nil {
		return false, err
	}

	m.log.Info("Date boundary crossed",
		zap.String("run_id", m.runID),
		zap.String("old_date", previous),
		zap.String("new_date", date),
		zap.String("path", m.currentPath),
	)

	return true, nil
}

// RunID returns the engine run identifier.
func (m *RunManager) RunID() string {
	return m.runID
}

// RunNumber returns N of the run_N folder.
func (m *RunManager) RunNumber() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.runNumber
}

// StartedAt returns the start time passed to Initialize.
func (m *RunManager) StartedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.startedAt
}

// CurrentDate returns the date of the current folder as YYYY-MM-DD.
func (m *RunManager) CurrentDate() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.currentDate
}

// CurrentRunPath returns the current run folder.
func (m *RunManager) CurrentRunPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.currentPath
}

// OutputPath returns the root output folder.
func (m *RunManager) OutputPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.outputPath
}

// FilePath returns filename inside the current run folder.
func (m *RunManager) FilePath(filename string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return filepath.Join(m.currentPath, filename)
}

// ListRuns returns the run_N folders of date ordered by run number.
func (m *RunManager) ListRuns(date string) ([]string, error) {
	return listRuns(filepath.Join(m.OutputPath(), date))
}

// Dates returns every date folder under the output path, sorted.
func (m *RunManager) Dates() ([]string, error) {
	output := m.OutputPath()
	if output == "" {
		return []string{}, nil
	}

	entries, err := os.ReadDir(output)
	if os.IsNotExist(err) {
		return []string{}, nil
	}

	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataNotFound, "failed to read output directory", err)
	}

	dates := []string{}

	for _, entry := range entries {
		if entry.IsDir() && dateFolderPattern.MatchString(entry.Name()) {
			dates = append(dates, entry.Name())
		}
	}

	slices.Sort(dates)

	return dates, nil
}

func listRuns(datePath string) ([]string, error) {
	entries, err := os.ReadDir(datePath)
	if os.IsNotExist(err) {
		return []string{}, nil
	}

	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeDataNotFound, err, "failed to read %s", datePath)
	}

	runs := []string{}

	for _, entry := range entries {
		if entry.IsDir() && runFolderPattern.MatchString(entry.Name()) {
			runs = append(runs, entry.Name())
		}
	}

	slices.SortFunc(runs, func(a, b string) int {
		return runNumberOf(a) - runNumberOf(b)
	})

	return runs, nil
}

func runNumberOf(folder string) int {
	number, err := strconv.Atoi(strings.TrimPrefix(folder, "run_"))
	if err != nil {
		return 0
	}

	return number
}
