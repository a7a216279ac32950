package session

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/stretchr/testify/suite"
)

type RunManagerTestSuite struct {
	suite.Suite
	logger  *logger.Logger
	tempDir string
	start   time.Time
}

func TestRunManagerSuite(t *testing.T) {
	suite.Run(t, new(RunManagerTestSuite))
}

func (s *RunManagerTestSuite) SetupSuite() {
	log, err := logger.NewLogger()
	s.Require().NoError(err)

	s.logger = log
}

func (s *RunManagerTestSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
	s.start = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
}

func (s *RunManagerTestSuite) mkdirRuns(date string, numbers ...int) {
	for _, n := range numbers {
		s.Require().NoError(os.MkdirAll(filepath.Join(s.tempDir, date, "run_"+strconv.Itoa(n)), 0o755))
	}
}

func (s *RunManagerTestSuite) TestInitializeFirstRun() {
	m := NewRunManager("bt_20240304_090000_sma_NIFTY", time.UTC, s.logger)

	s.Require().NoError(m.Initialize(s.tempDir, s.start))

	s.Equal(1, m.RunNumber())
	s.Equal("2024-03-04", m.CurrentDate())
	s.Equal(filepath.Join(s.tempDir, "2024-03-04", "run_1"), m.CurrentRunPath())
	s.DirExists(m.CurrentRunPath())
	s.Equal(s.start, m.StartedAt())
	s.Equal(s.tempDir, m.OutputPath())
	s.Equal("bt_20240304_090000_sma_NIFTY", m.RunID())
}

func (s *RunManagerTestSuite) TestInitializeSkipsExistingRuns() {
	s.mkdirRuns("2024-03-04", 1, 3, 12)

	m := NewRunManager("live", time.UTC, s.logger)
	s.Require().NoError(m.Initialize(s.tempDir, s.start))

	s.Equal(13, m.RunNumber())
	s.Equal(filepath.Join(s.tempDir, "2024-03-04", "run_13"), m.CurrentRunPath())
}

func (s *RunManagerTestSuite) TestIgnoresNonRunFolders() {
	datePath := filepath.Join(s.tempDir, "2024-03-04")
	for _, name := range []string{"backup", "run", "run_", "run_abc", "test_1"} {
		s.Require().NoError(os.MkdirAll(filepath.Join(datePath, name), 0o755))
	}

	s.mkdirRuns("2024-03-04", 5)

	m := NewRunManager("live", time.UTC, s.logger)
	s.Require().NoError(m.Initialize(s.tempDir, s.start))

	s.Equal(6, m.RunNumber())
}

func (s *RunManagerTestSuite) TestDateUsesLocation() {
	ist, err := time.LoadLocation("Asia/Kolkata")
	s.Require().NoError(err)

	m := NewRunManager("live", ist, s.logger)
	// 20:00 UTC is already the next day in IST.
	s.Require().NoError(m.Initialize(s.tempDir, time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC)))

	s.Equal("2024-03-05", m.CurrentDate())
}

func (s *RunManagerTestSuite) TestHandleDateBoundary() {
	m := NewRunManager("live", time.UTC, s.logger)
	s.Require().NoError(m.Initialize(s.tempDir, s.start))

	changed, err := m.HandleDateBoundary(s.start.Add(6 * time.Hour))
	s.Require().NoError(err)
	s.False(changed)

	changed, err = m.HandleDateBoundary(s.start.AddDate(0, 0, 1))
	s.Require().NoError(err)
	s.True(changed)

	s.Equal(1, m.RunNumber())
	s.Equal("2024-03-05", m.CurrentDate())
	s.Equal(filepath.Join(s.tempDir, "2024-03-05", "run_1"), m.CurrentRunPath())
	s.DirExists(m.CurrentRunPath())
}

func (s *RunManagerTestSuite) TestFilePath() {
	m := NewRunManager("live", time.UTC, s.logger)
	s.Require().NoError(m.Initialize(s.tempDir, s.start))

	s.Equal(filepath.Join(m.CurrentRunPath(), "stats.yaml"), m.FilePath("stats.yaml"))
}

func (s *RunManagerTestSuite) TestListRuns() {
	s.mkdirRuns("2024-03-04", 1, 2, 10)
	s.Require().NoError(os.WriteFile(filepath.Join(s.tempDir, "2024-03-04", "stats.yaml"), []byte("x"), 0o644))

	m := NewRunManager("live", time.UTC, s.logger)
	s.Require().NoError(m.Initialize(s.tempDir, s.start))

	runs, err := m.ListRuns("2024-03-04")
	s.Require().NoError(err)
	s.Equal([]string{"run_1", "run_2", "run_10", "run_11"}, runs)

	runs, err = m.ListRuns("2020-01-01")
	s.Require().NoError(err)
	s.Empty(runs)
}

func (s *RunManagerTestSuite) TestDates() {
	s.mkdirRuns("2024-01-02", 1)
	s.mkdirRuns("2024-01-01", 1)
	s.Require().NoError(os.MkdirAll(filepath.Join(s.tempDir, "not-a-date"), 0o755))
	s.Require().NoError(os.WriteFile(filepath.Join(s.tempDir, "config.yaml"), []byte("x"), 0o644))

	m := NewRunManager("live", time.UTC, s.logger)
	s.Require().NoError(m.Initialize(s.tempDir, s.start))

	dates, err := m.Dates()
	s.Require().NoError(err)
	s.Equal([]string{"2024-01-01", "2024-01-02", "2024-03-04"}, dates)
}

func (s *RunManagerTestSuite) TestDatesWithoutOutput() {
	m := NewRunManager("live", time.UTC, s.logger)

	dates, err := m.Dates()
	s.NoError(err)
	s.Empty(dates)
}

func (s *RunManagerTestSuite) TestInitializeFailsOnFile() {
	blocker := filepath.Join(s.tempDir, "blocker")
	s.Require().NoError(os.WriteFile(blocker, []byte("x"), 0o644))

	m := NewRunManager("live", time.UTC, s.logger)
	s.Error(m.Initialize(blocker, s.start))
}

func (s *RunManagerTestSuite) TestConcurrentAccess() {
	m := NewRunManager("live", time.UTC, s.logger)
	s.Require().NoError(m.Initialize(s.tempDir, s.start))

	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = m.CurrentRunPath()
			_ = m.CurrentDate()
			_ = m.FilePath("trades.parquet")
			_, _ = m.HandleDateBoundary(s.start)
		}()
	}

	wg.Wait()
}
