package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitWriter_ProdIsJSON(t *testing.T) {
	var buf bytes.Buffer
	InitWriter("prod", &buf)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.DebugLevel) })

	log.Info().Uint("user_id", 7).Msg("connected")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("prod log line is not JSON: %v (%q)", err, buf.String())
	}
	if line["env"] != "prod" || line["message"] != "connected" {
		t.Errorf("unexpected log line: %v", line)
	}

	buf.Reset()
	log.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug line emitted in prod: %q", buf.String())
	}
}
