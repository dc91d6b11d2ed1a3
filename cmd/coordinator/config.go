package main

import (
	"github.com/hwrig/testbed/core/server"
	"github.com/hwrig/testbed/integration/database/mongo"
	"github.com/hwrig/testbed/integration/database/pg"
	"github.com/hwrig/testbed/integration/database/redis"
	"github.com/hwrig/testbed/integration/email/postmark"
	"github.com/hwrig/testbed/integration/storage/s3"
)

// Config is the Coordinator process's full environment-backed configuration.
type Config struct {
	AppName      string `env:"APP_NAME" envDefault:"testbed-coordinator"`
	JWTSecret    string `env:"JWT_SECRET,required"`
	MongoEnabled bool   `env:"TELEMETRY_ARCHIVE_ENABLED" envDefault:"true"`
	MongoDBName  string `env:"MONGODB_DATABASE" envDefault:"testbed"`

	Server   server.Config
	DB       pg.Config
	Redis    redis.Config
	Mongo    mongo.Config
	Postmark postmark.Config
	S3       s3.S3Config
}
