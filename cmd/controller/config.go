package main

import "time"

// Config is the Controller process's full environment-backed configuration.
type Config struct {
	AppName     string `env:"APP_NAME" envDefault:"testbed-controller"`
	ServerURL   string `env:"SERVER_URL,required"`
	AccessToken string `env:"BACKEND_ACCESS_TOKEN,required"`

	DockerPath      string        `env:"DOCKER_PATH" envDefault:"/usr/bin/docker"`
	ScratchDir      string        `env:"SCRATCH_DIR" envDefault:"/tmp/controller"`
	TransmitterPath string        `env:"TRANSMITTER_DEVICE_PATH,required"`
	ReceiverPaths   []string      `env:"RECEIVER_DEVICE_PATHS" envSeparator:","`
	PythonLibDir    string        `env:"PYTHON_LIB_PATH"`
	PendingQueueMax int           `env:"PENDING_RESULT_QUEUE_MAX" envDefault:"256"`
	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
}
