package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conf.yaml", "session:\n  bot_id: bot-7\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Session.BotID != "bot-7" {
		t.Fatalf("bot_id=%q, want bot-7", cfg.Session.BotID)
	}
	if cfg.Session.Mode != "ws" {
		t.Fatalf("mode=%q, want ws", cfg.Session.Mode)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.FrameMs != 20 {
		t.Fatalf("audio=%+v", cfg.Audio)
	}
	if got, want := cfg.Audio.FrameBytes(), 640; got != want {
		t.Fatalf("FrameBytes=%d, want %d", got, want)
	}
	if got, want := cfg.EngineConfig, filepath.Join(dir, "engine.yaml"); got != want {
		t.Fatalf("engine_config=%q, want %q", got, want)
	}
	if !filepath.IsAbs(cfg.TranscriptDir) {
		t.Fatalf("transcript_dir=%q not absolute", cfg.TranscriptDir)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conf.yaml", "session:\n  bot_id: from-file\n")
	t.Setenv("CONVAI_SESSION_BOT_ID", "from-env")
	t.Setenv("CONVAI_AUDIO_FRAME_MS", "40")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Session.BotID != "from-env" {
		t.Fatalf("bot_id=%q, want from-env", cfg.Session.BotID)
	}
	if cfg.Audio.FrameMs != 40 {
		t.Fatalf("frame_ms=%d, want 40", cfg.Audio.FrameMs)
	}
}

func TestLoadConfigRejectsBadAudio(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conf.yaml", "audio:\n  uplink_codec: flac\n")
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "uplink_codec") {
		t.Fatalf("err=%v, want uplink_codec error", err)
	}
}

func TestLoadEngineConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "engine.yaml", `ver: 1
iot:
  instance_id: inst
  product_key: pk
  product_secret: secret
  device_name: dev
ws:
  url: wss://example.test/realtime
  handshake_timeout_ms: 3000
`)
	data, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("LoadEngineConfig error: %v", err)
	}
	var doc struct {
		Ver int `json:"ver"`
		IoT struct {
			DeviceName string `json:"device_name"`
		} `json:"iot"`
		WS struct {
			URL     string `json:"url"`
			Timeout int    `json:"handshake_timeout_ms"`
		} `json:"ws"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("output is not json: %v (%s)", err, data)
	}
	if doc.Ver != 1 || doc.IoT.DeviceName != "dev" || doc.WS.URL != "wss://example.test/realtime" || doc.WS.Timeout != 3000 {
		t.Fatalf("doc=%+v", doc)
	}
}

func TestLoadEngineConfigJSON(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "engine.json", `{"iot":{}}`)
	if data, err := LoadEngineConfig(good); err != nil || string(data) != `{"iot":{}}` {
		t.Fatalf("data=%s err=%v", data, err)
	}
	bad := writeFile(t, dir, "bad.json", `{"iot":`)
	if _, err := LoadEngineConfig(bad); err == nil {
		t.Fatal("LoadEngineConfig accepted invalid json")
	}
	if _, err := LoadEngineConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("LoadEngineConfig accepted a missing file")
	}
}

func TestYAMLToJSONNonStringKeys(t *testing.T) {
	data, err := YAMLToJSON([]byte("codes:\n  1: listening\n  2: thinking\n"))
	if err != nil {
		t.Fatalf("YAMLToJSON error: %v", err)
	}
	var doc map[string]map[string]string
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["codes"]["2"] != "thinking" {
		t.Fatalf("doc=%v", doc)
	}
}
