package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Iron-Ham/zektor/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "mqtt.port")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// hexColorRegex matches #RGB and #RRGGBB colors
var hexColorRegex = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// envRegex restricts profile names to what is safe inside a file name
var envRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// MaxStages is the upper bound on the number of configured stages
const MaxStages = 64

// ValidLogLevels returns the logger's levels in the lowercase form used in
// config files
func ValidLogLevels() []string {
	levels := logging.ValidLevels()
	for i, l := range levels {
		levels[i] = strings.ToLower(l)
	}
	return levels
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.Env != "" && !envRegex.MatchString(c.Env) {
		errors = append(errors, ValidationError{
			Field:   "env",
			Value:   c.Env,
			Message: "must start with a letter or digit and contain only letters, digits, hyphens and underscores",
		})
	}

	errors = append(errors, c.validateStages()...)
	errors = append(errors, c.validatePersistence()...)
	errors = append(errors, c.validateMQTT()...)
	errors = append(errors, c.validateTriggers()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateStages validates the stage list
func (c *Config) validateStages() []ValidationError {
	var errors []ValidationError

	if len(c.Stages) == 0 {
		errors = append(errors, ValidationError{
			Field:   "stages",
			Value:   0,
			Message: "at least one stage is required",
		})
		return errors
	}
	if len(c.Stages) > MaxStages {
		errors = append(errors, ValidationError{
			Field:   "stages",
			Value:   len(c.Stages),
			Message: fmt.Sprintf("exceeds maximum of %d stages", MaxStages),
		})
	}

	for i, s := range c.Stages {
		field := fmt.Sprintf("stages[%d]", i)
		if strings.TrimSpace(s.Label) == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".label",
				Value:   s.Label,
				Message: "must not be empty",
			})
		}
		if s.Color != "" && !hexColorRegex.MatchString(s.Color) {
			errors = append(errors, ValidationError{
				Field:   field + ".color",
				Value:   s.Color,
				Message: "must be a hex color like #228B22",
			})
		}
	}

	return errors
}

// validatePersistence validates the PersistenceConfig
func (c *Config) validatePersistence() []ValidationError {
	var errors []ValidationError

	if c.Persistence.Backend != "" && !slices.Contains(ValidBackends(), c.Persistence.Backend) {
		errors = append(errors, ValidationError{
			Field:   "persistence.backend",
			Value:   c.Persistence.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}

	if c.Persistence.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "persistence.timeout",
			Value:   c.Persistence.Timeout,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateMQTT validates the MQTTConfig. Connection fields are only
// checked when MQTT is enabled.
func (c *Config) validateMQTT() []ValidationError {
	var errors []ValidationError
	m := c.MQTT

	if m.QoS < 0 || m.QoS > 2 {
		errors = append(errors, ValidationError{
			Field:   "mqtt.qos",
			Value:   m.QoS,
			Message: "must be 0, 1 or 2",
		})
	}

	if m.QueueSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "mqtt.queue_size",
			Value:   m.QueueSize,
			Message: "must be at least 1",
		})
	}

	if strings.ContainsAny(m.TopicPrefix, "+#") {
		errors = append(errors, ValidationError{
			Field:   "mqtt.topic_prefix",
			Value:   m.TopicPrefix,
			Message: "must not contain MQTT wildcards",
		})
	}

	if !m.Enabled {
		return errors
	}

	if strings.TrimSpace(m.Broker) == "" {
		errors = append(errors, ValidationError{
			Field:   "mqtt.broker",
			Value:   m.Broker,
			Message: "is required when mqtt is enabled",
		})
	}
	if m.Port < 1 || m.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "mqtt.port",
			Value:   m.Port,
			Message: "must be between 1 and 65535",
		})
	}
	if m.ConnectTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "mqtt.connect_timeout",
			Value:   m.ConnectTimeout,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateTriggers checks that every rule names a configured stage and a
// concrete topic
func (c *Config) validateTriggers() []ValidationError {
	var errors []ValidationError
	n := len(c.Stages)

	checkStage := func(field string, stage int) {
		if stage < 1 || stage > n {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   stage,
				Message: fmt.Sprintf("must be between 1 and %d", n),
			})
		}
	}
	checkTopic := func(field, topic string) {
		switch {
		case strings.TrimSpace(topic) == "":
			errors = append(errors, ValidationError{Field: field, Value: topic, Message: "must not be empty"})
		case strings.ContainsAny(topic, "+#"):
			errors = append(errors, ValidationError{Field: field, Value: topic, Message: "must not contain MQTT wildcards"})
		}
	}

	for i, r := range c.Triggers.Progression {
		field := fmt.Sprintf("triggers.progression[%d]", i)
		checkStage(field+".stage", r.Stage)
		checkTopic(field+".topic", r.Topic)
		if strings.TrimSpace(r.Message) == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".message",
				Value:   r.Message,
				Message: "must not be empty",
			})
		}
		for j, b := range r.BlockedBy {
			checkStage(fmt.Sprintf("%s.blocked_by[%d]", field, j), b)
		}
	}

	for i, r := range c.Triggers.Scoring {
		field := fmt.Sprintf("triggers.scoring[%d]", i)
		checkStage(field+".stage", r.Stage)
		checkTopic(field+".topic", r.Topic)
		if r.Positive < 0 {
			errors = append(errors, ValidationError{
				Field:   field + ".positive",
				Value:   r.Positive,
				Message: "must be non-negative",
			})
		}
		if r.Negative < 0 {
			errors = append(errors, ValidationError{
				Field:   field + ".negative",
				Value:   r.Negative,
				Message: "must be non-negative; it is subtracted on a negative payload",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
