package enum

type Storage int

const (
	MemoryStorage Storage = iota
	RedisStorage
)

func (s Storage) String() string {
	return [...]string{"memory", "redis"}[s]
}

func ParseStorage(value string) Storage {
	switch value {
	case "redis":
		return RedisStorage
	default:
		return MemoryStorage
	}
}

// Stage is a step of the proxy request state machine.
type Stage int

const (
	StageRateLimitCheck Stage = iota
	StagePathValidate
	StageEnsureToken
	StageForward
	StageRetryWithRefresh
	StageRespond
)

func (s Stage) String() string {
	return [...]string{
		"rate_limit_check",
		"path_validate",
		"ensure_token",
		"forward",
		"retry_with_refresh",
		"respond",
	}[s]
}
