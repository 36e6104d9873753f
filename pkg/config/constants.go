package config

// EnvPrefix is passed to envconfig; individual fields carry explicit names.
const EnvPrefix = "VENDALIVRE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "VENDALIVRE_DB_DSN"
	EnvDBHost = "VENDALIVRE_DB_HOST"
	EnvDBUser = "VENDALIVRE_DB_USER"
	EnvDBName = "VENDALIVRE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
