package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidConfiguration ErrorCode = 100
	ErrCodeInvalidTimeRange     ErrorCode = 101
	ErrCodeEmptyPairList        ErrorCode = 102
	ErrCodeInvalidBalance       ErrorCode = 103
	ErrCodeInvalidTimeframe     ErrorCode = 104
	ErrCodeInvalidStakeAmount   ErrorCode = 105
	ErrCodeInvalidWorkerCount   ErrorCode = 106
	ErrCodeMissingStrategy      ErrorCode = 107

	// Process errors (200-299)
	ErrCodeProcessLaunchFailed ErrorCode = 200
	ErrCodeProcessTimeout      ErrorCode = 201
	ErrCodeProcessExitFault    ErrorCode = 202
	ErrCodeProcessKillFailed   ErrorCode = 203
	ErrCodeEngineUnavailable   ErrorCode = 204

	// Parse errors (300-399)
	ErrCodeParseNoUsableData ErrorCode = 300
	ErrCodeParseExportFailed ErrorCode = 301

	// Scheduler errors (400-499)
	ErrCodeTaskNotFound      ErrorCode = 400
	ErrCodeBatchNotFound     ErrorCode = 401
	ErrCodeSchedulerShutdown ErrorCode = 402
	ErrCodeIllegalTransition ErrorCode = 403
	ErrCodeEmptyBatch        ErrorCode = 404

	// Session errors (500-599)
	ErrCodeSessionNotFound   ErrorCode = 500
	ErrCodeSessionNotRunning ErrorCode = 501
	ErrCodeSessionStopFailed ErrorCode = 502

	// Comparator errors (600-699)
	ErrCodeCompareEmptyInput ErrorCode = 600

	// Store errors (700-799)
	ErrCodeStoreWriteFailed   ErrorCode = 700
	ErrCodeStoreQueryFailed   ErrorCode = 701
	ErrCodeStoreInitFailed    ErrorCode = 702
	ErrCodeStoreNotConfigured ErrorCode = 703

	// Config snapshot errors (800-899)
	ErrCodeConfigNotFound           ErrorCode = 800
	ErrCodeConfigSaveFailed         ErrorCode = 801
	ErrCodeConfigStoreNotConfigured ErrorCode = 802
)
