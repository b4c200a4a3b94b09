package zerolog_config

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.elastic.co/ecszerolog"
)

var appPrefix = "esistatus"
var setAppPrefixOnce *sync.Once = &sync.Once{}
var startupLoggerOnce *sync.Once = &sync.Once{}

// ElasticsearchWriter sends each log event as a document to an index
type ElasticsearchWriter struct {
	URL    string
	Client *http.Client
}

func (ew ElasticsearchWriter) Write(p []byte) (n int, err error) {
	client := ew.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Post(ew.URL+"/_doc", "application/json", bytes.NewReader(p))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("elasticsearch returned %d", resp.StatusCode)
	}

	return len(p), nil
}

// NewLogger builds a logger writing to the console and, when elasticsearchURL
// is set, ECS documents to <elasticsearchURL>/<index>
func NewLogger(elasticsearchURL, index string, level zerolog.Level) zerolog.Logger {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	if elasticsearchURL == "" {
		return zerolog.New(consoleWriter).Level(level).With().Str("app", appPrefix).
			Timestamp().Logger()
	}

	ecsLogger := ecszerolog.New(&ElasticsearchWriter{
		URL:    strings.TrimRight(elasticsearchURL, "/") + "/" + index,
		Client: &http.Client{Timeout: 5 * time.Second},
	})

	multi := zerolog.MultiLevelWriter(ecsLogger, consoleWriter)

	return zerolog.New(multi).Level(level).With().Str("app", appPrefix).
		Timestamp().Logger()
}

// SetAppPrefix sets the app field attached to every event. Only the first
// call has an effect.
func SetAppPrefix(prefix string) {
	setAppPrefixOnce.Do(func() {
		appPrefix = prefix
	})
}

// StartupWithEnv installs the process logger. Run SetAppPrefix before
// StartupWithEnv. An unknown level falls back to info.
func StartupWithEnv(elasticsearchURL, index, level string) error {
	if index == "" {
		return fmt.Errorf("index is required")
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	startupLoggerOnce.Do(func() {
		zerolog.SetGlobalLevel(lvl)
		log.Logger = NewLogger(elasticsearchURL, index, lvl)
	})
	return nil
}
