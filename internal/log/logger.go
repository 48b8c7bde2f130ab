package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 配置全局 zerolog logger：dev 环境输出彩色控制台格式，其余环境输出 JSON。
func Init(env string) {
	InitWriter(env, os.Stdout)
}

func InitWriter(env string, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "dev" {
		cw := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(cw).With().Timestamp().Logger()
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	log.Logger = zerolog.New(out).With().Timestamp().Str("env", env).Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
