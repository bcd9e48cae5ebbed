// Package version хранит данные сборки.
package version

import "fmt"

// Заполняются через -ldflags "-X github.com/vladislavdragonenkov/checkout/internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion возвращает версию сборки для health-ответов.
func GetVersion() string { return version }

func String() string {
	return fmt.Sprintf("checkout-service version=%s commit=%s date=%s", version, commit, date)
}
