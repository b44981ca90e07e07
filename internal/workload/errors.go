package workload

import "fmt"

// ConfigurationError reports a generator setup problem detected at startup.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("workload configuration error on '%s': %s", e.Field, e.Message)
}
