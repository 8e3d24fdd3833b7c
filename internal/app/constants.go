package app

const (
	Name                = "fundichat"
	SourceURL           = "https://github.com/fundihub/fundichat"
	ConfigFilename      = "config.json"
	EnvFilename         = ".env"
	DBFilename          = "chat.db"
	LogFilename         = "chat.log"
	UploadSpoolDir      = "uploads"
	WriterQueueCapacity = 512
)
