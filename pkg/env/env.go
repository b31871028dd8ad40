package env

import (
	"time"

	"github.com/benchroom/benchroom/pkg/log"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

var variables = new(Environment)

// Process the environment variables set for benchroom.
func Process() error {
	if err := envconfig.Process("benchroom", variables); err != nil {
		return errors.Wrap(err, "failed to process environment variables")
	}

	// set the log level
	if err := log.SetLevel(variables.LogLevel); err != nil {
		return errors.Wrap(err, "failed to set log level")
	}

	return nil
}

// Variables returns the processed environment variables.
func Variables() Environment {
	return *variables
}

// Environment defines the environment variables used
// by benchroom.
type Environment struct {
	LogLevel     string `split_words:"true" default:"info"`
	Port         int    `split_words:"true" default:"8080"`
	ServerURL    string `split_words:"true" default:"http://localhost:8080"`
	DatabaseType string `split_words:"true" default:"sqlite"`
	DatabaseDSN  string `split_words:"true" default:"benchroom.db"`
	DataDir      string `split_words:"true" default:"data"` // badger directory for timers and chat history
	ProjectsDir  string `split_words:"true" default:"projects"`

	SandboxImage       string        `split_words:"true" default:"benchroom/code-server:latest"`
	SandboxPort        int           `split_words:"true" default:"8080"`
	SandboxMountTarget string        `split_words:"true" default:"/home/coder/project"`
	SandboxUser        string        `split_words:"true" default:"coder"`
	PullImage          bool          `split_words:"true" default:"false"`
	PortWaitAttempts   int           `split_words:"true" default:"5"`
	PortWaitInterval   time.Duration `split_words:"true" default:"1s"`
	StopTimeout        time.Duration `split_words:"true" default:"10s"`

	InitialTimer time.Duration `split_words:"true" default:"10m"`
	ProjectTimer time.Duration `split_words:"true" default:"60m"`

	GenAIAPIKey string `envconfig:"GENAI_API_KEY" default:""`
	GenAIModel  string `envconfig:"GENAI_MODEL" default:"gemini-2.5-flash"`

	VaultAddress   string `split_words:"true" default:""`
	VaultToken     string `split_words:"true" default:""`
	VaultNamespace string `split_words:"true" default:""`

	ReconcileSchedule string `split_words:"true" default:"@every 1m"`

	// InstanceID is injected into sandboxes; it also answers to the
	// unprefixed INSTANCE_ID variable.
	InstanceID string `envconfig:"INSTANCE_ID" default:""`
}
