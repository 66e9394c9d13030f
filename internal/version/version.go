// Package version хранит сведения о сборке, проставляемые через -ldflags:
//
//	-X github.com/vladislavdragonenkov/fulfillment/internal/version.version=v1.2.0
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Service — имя сервиса в логах, health-ответах и User-Agent исходящих запросов.
const Service = "fulfillment-service"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает собранный бинарь.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

// Dev сообщает, что бинарь собран без -ldflags.
func (b Build) Dev() bool { return b.Version == "dev" }

func (b Build) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", Service, b.Version, b.Commit, b.Date)
}

// UserAgent — значение заголовка User-Agent для запросов к внешним системам.
func (b Build) UserAgent() string {
	return Service + "/" + b.Version
}

// Fields возвращает сведения о сборке для стартового лога.
func (b Build) Fields() log.Fields {
	return log.Fields{"service": Service, "version": b.Version, "commit": b.Commit, "build_date": b.Date}
}

// Fields — сокращение для Current().Fields().
func Fields() log.Fields { return Current().Fields() }
