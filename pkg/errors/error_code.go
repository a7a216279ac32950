package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrder         ErrorCode = 105
	ErrCodeInsufficientData     ErrorCode = 106
	ErrCodeInvalidPeriod        ErrorCode = 108
	ErrCodeMissingParameter     ErrorCode = 109
	ErrCodeInvalidVersion       ErrorCode = 110
	ErrCodeInvalidResolution    ErrorCode = 120
	ErrCodeInvalidSessionTime   ErrorCode = 121

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound          ErrorCode = 200
	ErrCodeDataSourceUnavailable ErrorCode = 201
	ErrCodeQueryFailed           ErrorCode = 202
	ErrCodeWriteFailed           ErrorCode = 206

	// Strategy errors (400-499)
	ErrCodeStrategyNotLoaded    ErrorCode = 400
	ErrCodeStrategyConfigError  ErrorCode = 401
	ErrCodeStrategyRuntimeError ErrorCode = 402
	ErrCodeUnsupportedStrategy  ErrorCode = 403
	ErrCodeVersionMismatch      ErrorCode = 404
	ErrCodeStrategyExists       ErrorCode = 405

	// Trading errors (500-599)
	ErrCodeOrderFailed          ErrorCode = 500
	ErrCodePositionNotFound     ErrorCode = 501
	ErrCodeMarketDataMissing    ErrorCode = 502
	ErrCodeInvalidTransition    ErrorCode = 503
	ErrCodeNoOpenPosition       ErrorCode = 504
	ErrCodeDuplicateFill        ErrorCode = 505
	ErrCodeInsufficientCapital  ErrorCode = 506
	ErrCodeBelowMinimumLotSize  ErrorCode = 507
	ErrCodeInvalidLotMultiple   ErrorCode = 508
	ErrCodeUnknownInstrument    ErrorCode = 509
	ErrCodeEntryWindowClosed    ErrorCode = 510
	ErrCodeLedgerInvariantError ErrorCode = 511

	// Engine errors (600-699)
	ErrCodeEngineInitFailed     ErrorCode = 600
	ErrCodeEngineConfigError    ErrorCode = 601
	ErrCodeEngineNotInitialized ErrorCode = 602
	ErrCodeEngineAlreadyRunning ErrorCode = 603
	ErrCodeEngineShutdownFailed ErrorCode = 604
	ErrCodeEngineNoStrategy     ErrorCode = 605
	ErrCodeEngineNoFeed         ErrorCode = 606

	// Market data errors (700-799)
	ErrCodeMarketDataFetchFailed ErrorCode = 700
	ErrCodeMarketDataParseFailed ErrorCode = 702
	ErrCodeOutOfOrderData        ErrorCode = 705
	ErrCodeFeedDisconnected      ErrorCode = 706

	// Callback errors (800-899)
	ErrCodeCallbackFailed ErrorCode = 800
)
