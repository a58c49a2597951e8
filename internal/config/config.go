package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a configuration that could not be decoded or validated.
var ErrInvalid = errors.New("invalid configuration")

const (
	DefaultInterpreter     = "python3"
	DefaultScriptPath      = "fetch_gsheet.py"
	DefaultTimestampFormat = "%d/%m/%Y %H:%M:%S"
	DefaultTimestampField  = "Horodateur"
	DefaultPollInterval    = 5 * time.Minute
	DefaultMaxOutputBytes  = 10 * 1024 * 1024
	DefaultStateFile       = "last_timestamp.txt"
	DefaultStateDB         = "sheetpoll.db"
	DefaultStateKey        = "gsheet"

	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// params mirrors the recognized keys. Pointers distinguish "absent" from
// the zero value where the defaults depend on it.
type params struct {
	AgentID             string   `yaml:"agent_id"`
	Interpreter         *string  `yaml:"interpreter"`
	ScriptPath          string   `yaml:"script_path"`
	Args                []string `yaml:"args"`
	WorkDir             string   `yaml:"workdir"`
	Env                 []string `yaml:"env"`
	TimestampFormat     string   `yaml:"timestamp_format"`
	TimestampField      string   `yaml:"timestamp_field"`
	PollIntervalMinutes *int     `yaml:"poll_interval_minutes"`
	MaxOutputBytes      int      `yaml:"max_output_bytes"`
	RecordsSelector     string   `yaml:"records_selector"`
	StateStore          string   `yaml:"state_store"`
	StatePath           string   `yaml:"state_path"`
	StateKey            string   `yaml:"state_key"`
	Timezone            string   `yaml:"timezone"`
}

// Config is the validated, immutable option set of one connector instance.
type Config struct {
	AgentID         string
	Interpreter     string
	ScriptPath      string
	Args            []string
	WorkDir         string
	Env             []string
	TimestampFormat string
	TimestampField  string
	PollInterval    time.Duration
	MaxOutputBytes  int
	RecordsSelector string
	StateStore      string
	StatePath       string
	StateKey        string
	Location        *time.Location
}

// Default returns the configuration used when no option is set.
func Default() Config {
	return Config{
		Interpreter:     DefaultInterpreter,
		ScriptPath:      DefaultScriptPath,
		TimestampFormat: DefaultTimestampFormat,
		TimestampField:  DefaultTimestampField,
		PollInterval:    DefaultPollInterval,
		MaxOutputBytes:  DefaultMaxOutputBytes,
		StateStore:      StoreFile,
		StatePath:       DefaultStateFile,
		StateKey:        DefaultStateKey,
		Location:        time.Local,
	}
}

// Parse decodes a YAML (or JSON) parameter document. Unknown keys are rejected.
func Parse(content []byte) (Config, error) {
	var p params
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return p.resolve()
}

func (p params) resolve() (Config, error) {
	c := Default()

	c.AgentID = p.AgentID
	if p.Interpreter != nil {
		c.Interpreter = *p.Interpreter
	}
	if p.ScriptPath != "" {
		c.ScriptPath = p.ScriptPath
	}
	c.Args = p.Args
	c.WorkDir = p.WorkDir
	c.Env = p.Env
	if p.TimestampFormat != "" {
		c.TimestampFormat = p.TimestampFormat
	}
	if p.TimestampField != "" {
		c.TimestampField = p.TimestampField
	}
	// non-positive intervals keep the default
	if p.PollIntervalMinutes != nil && *p.PollIntervalMinutes > 0 {
		c.PollInterval = time.Duration(*p.PollIntervalMinutes) * time.Minute
	}
	if p.MaxOutputBytes > 0 {
		c.MaxOutputBytes = p.MaxOutputBytes
	}

	if p.RecordsSelector != "" {
		if _, err := jmespath.Compile(p.RecordsSelector); err != nil {
			return Config{}, fmt.Errorf("%w: records_selector %q: %v", ErrInvalid, p.RecordsSelector, err)
		}
		c.RecordsSelector = p.RecordsSelector
	}

	switch p.StateStore {
	case "", StoreFile:
		c.StateStore = StoreFile
	case StoreSQLite:
		c.StateStore = StoreSQLite
		c.StatePath = DefaultStateDB
	default:
		return Config{}, fmt.Errorf("%w: unknown state_store %q", ErrInvalid, p.StateStore)
	}
	if p.StatePath != "" {
		c.StatePath = p.StatePath
	}
	switch {
	case p.StateKey != "":
		c.StateKey = p.StateKey
	case p.AgentID != "":
		c.StateKey = p.AgentID
	}

	if p.Timezone != "" {
		loc, err := time.LoadLocation(p.Timezone)
		if err != nil {
			return Config{}, fmt.Errorf("%w: timezone %q: %v", ErrInvalid, p.Timezone, err)
		}
		c.Location = loc
	}

	return c, nil
}
