package ordernum

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	prefix     = "ORD"
	layout     = "20060102-150405"
	suffixSize = 8
)

// Generator выдаёт номера вида ORD-YYYYMMDD-HHMMSS-XXXXXXXX.
// Уникальность гарантирует ограничение в БД, здесь только малая вероятность коллизии.
type Generator struct {
	now    func() time.Time
	random func() string
}

func New() *Generator {
	return &Generator{
		now: time.Now,
		random: func() string {
			return uuid.NewString()
		},
	}
}

// NewWithClock нужен тестам и повторному воспроизведению.
func NewWithClock(now func() time.Time, random func() string) *Generator {
	return &Generator{now: now, random: random}
}

func (g *Generator) Next() string {
	suffix := strings.ToUpper(strings.ReplaceAll(g.random(), "-", ""))
	if len(suffix) > suffixSize {
		suffix = suffix[:suffixSize]
	}
	return prefix + "-" + g.now().UTC().Format(layout) + "-" + suffix
}
