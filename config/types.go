// Package config loads workflow files (YAML, JSON or HCL) into steps, a
// retry policy and engine options.
package config

// File is the on-disk workflow document. The same structure backs every
// format; HCL uses labelled step blocks instead of a steps list.
type File struct {
	Name string `yaml:"name" json:"name" hcl:"name,optional"`

	// WorkingDirectory is relative to the workflow file. Defaults to the
	// directory holding the file.
	WorkingDirectory string            `yaml:"working_directory" json:"working_directory" hcl:"working_directory,optional"`
	Env              map[string]string `yaml:"env" json:"env" hcl:"env,optional"`

	Engine *EngineConfig `yaml:"engine" json:"engine" hcl:"engine,block"`
	Retry  *RetryConfig  `yaml:"retry" json:"retry" hcl:"retry,block"`
	Steps  []StepConfig  `yaml:"steps" json:"steps" hcl:"step,block"`
}

// EngineConfig holds execution settings; command line flags override them
type EngineConfig struct {
	Parallel    bool   `yaml:"parallel" json:"parallel" hcl:"parallel,optional"`
	MaxWorkers  int    `yaml:"max_workers" json:"max_workers" hcl:"max_workers,optional"`
	NodeTimeout string `yaml:"node_timeout" json:"node_timeout" hcl:"node_timeout,optional"`
}

// RetryConfig must set every field. Pointers tell a missing field from a
// zero value.
type RetryConfig struct {
	MaxAttempts       *int      `yaml:"max_attempts" json:"max_attempts" hcl:"max_attempts,optional"`
	BaseDelay         *string   `yaml:"base_delay" json:"base_delay" hcl:"base_delay,optional"`
	MaxDelay          *string   `yaml:"max_delay" json:"max_delay" hcl:"max_delay,optional"`
	BackoffMultiplier *float64  `yaml:"backoff_multiplier" json:"backoff_multiplier" hcl:"backoff_multiplier,optional"`
	Jitter            *bool     `yaml:"jitter" json:"jitter" hcl:"jitter,optional"`
	RetryOn           *[]string `yaml:"retry_on" json:"retry_on" hcl:"retry_on,optional"`
	AbortOn           *[]string `yaml:"abort_on" json:"abort_on" hcl:"abort_on,optional"`
}

// StepConfig is one step entry. Which fields apply depends on Type.
type StepConfig struct {
	ID   string `yaml:"id" json:"id" hcl:"id,label"`
	Type string `yaml:"type" json:"type" hcl:"type"`
	Name string `yaml:"name" json:"name" hcl:"name,optional"`

	// shell: Run is a shell line, Args an argument vector; set one
	Run  string   `yaml:"run" json:"run" hcl:"run,optional"`
	Args []string `yaml:"args" json:"args" hcl:"args,optional"`

	// file operations
	Path    string `yaml:"path" json:"path" hcl:"path,optional"`
	Src     string `yaml:"src" json:"src" hcl:"src,optional"`
	Dst     string `yaml:"dst" json:"dst" hcl:"dst,optional"`
	Content string `yaml:"content" json:"content" hcl:"content,optional"`

	// containers
	Image      string            `yaml:"image" json:"image" hcl:"image,optional"`
	Container  string            `yaml:"container" json:"container" hcl:"container,optional"`
	Mounts     map[string]string `yaml:"mounts" json:"mounts" hcl:"mounts,optional"`
	Network    string            `yaml:"network" json:"network" hcl:"network,optional"`
	MemoryMB   int64             `yaml:"memory_mb" json:"memory_mb" hcl:"memory_mb,optional"`
	AutoRemove bool              `yaml:"auto_remove" json:"auto_remove" hcl:"auto_remove,optional"`

	// scripts
	Interpreter string `yaml:"interpreter" json:"interpreter" hcl:"interpreter,optional"`
	Script      string `yaml:"script" json:"script" hcl:"script,optional"`
	Source      string `yaml:"source" json:"source" hcl:"source,optional"`

	// composite
	Parallel   bool         `yaml:"parallel" json:"parallel" hcl:"parallel,optional"`
	MaxWorkers int          `yaml:"max_workers" json:"max_workers" hcl:"max_workers,optional"`
	Steps      []StepConfig `yaml:"steps" json:"steps" hcl:"step,block"`

	// common
	Dir          string            `yaml:"dir" json:"dir" hcl:"dir,optional"`
	Env          map[string]string `yaml:"env" json:"env" hcl:"env,optional"`
	When         string            `yaml:"when" json:"when" hcl:"when,optional"`
	AllowFailure bool              `yaml:"allow_failure" json:"allow_failure" hcl:"allow_failure,optional"`
	Reads        []string          `yaml:"reads" json:"reads" hcl:"reads,optional"`
	Writes       []string          `yaml:"writes" json:"writes" hcl:"writes,optional"`
	After        []string          `yaml:"after" json:"after" hcl:"after,optional"`
	Timeout      string            `yaml:"timeout" json:"timeout" hcl:"timeout,optional"`
}
