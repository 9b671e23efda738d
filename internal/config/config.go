package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	appdefaults "github.com/saker-ai/convai/config"
	"github.com/saker-ai/convai/internal/logger"
)

const envPrefix = "convai"

// SessionConfig selects what the demo host starts.
type SessionConfig struct {
	Mode      string `mapstructure:"mode"`
	BotID     string `mapstructure:"bot_id"`
	AutoStart bool   `mapstructure:"auto_start"`
	// Params is a JSON document handed to the backend on start.
	Params string `mapstructure:"params"`
}

// AudioConfig describes the local capture and playback formats.
type AudioConfig struct {
	SampleRate    int    `mapstructure:"sample_rate"`
	Channels      int    `mapstructure:"channels"`
	FrameMs       int    `mapstructure:"frame_ms"`
	UplinkCodec   string `mapstructure:"uplink_codec"`
	DownlinkCodec string `mapstructure:"downlink_codec"`
	DownlinkRate  int    `mapstructure:"downlink_rate"`
	PlaybackRate  int    `mapstructure:"playback_rate"`
	RingBufferMs  int    `mapstructure:"ring_buffer_ms"`
	CapturePath   string `mapstructure:"capture_path"`
	PlaybackPath  string `mapstructure:"playback_path"`
}

// FrameBytes is the PCM16 size of one capture frame.
func (a AudioConfig) FrameBytes() int {
	return a.SampleRate * a.Channels * 2 * a.FrameMs / 1000
}

// RingBufferBytes is the playback buffer size at the playback rate.
func (a AudioConfig) RingBufferBytes() int {
	return a.PlaybackRate * a.Channels * 2 * a.RingBufferMs / 1000
}

// Config is the demo host configuration.
type Config struct {
	RootDir       string        `mapstructure:"-"`
	HTTPAddr      string        `mapstructure:"http_addr"`
	EngineConfig  string        `mapstructure:"engine_config"`
	Session       SessionConfig `mapstructure:"session"`
	Audio         AudioConfig   `mapstructure:"audio"`
	TranscriptDir string        `mapstructure:"transcript_dir"`
	Log           logger.Config `mapstructure:"log"`
}

// Load reads the embedded defaults, then conf.yaml from the root dir when
// present, then CONVAI_* environment overrides.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}
	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigName("conf")
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}
	return finish(v, rootDir)
}

// LoadConfig behaves like Load but reads configPath instead of searching
// for conf.yaml. An empty path falls back to Load.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}
	rootDir := strings.TrimSpace(os.Getenv("CONVAI_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}
	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}
	return finish(v, rootDir)
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return nil, fmt.Errorf("load embedded config: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func finish(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.RootDir = rootDir
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	cfg.EngineConfig = resolvePath(rootDir, cfg.EngineConfig, "engine.yaml")
	cfg.TranscriptDir = resolvePath(rootDir, cfg.TranscriptDir, filepath.Join("data", "transcripts"))
	if cfg.Audio.PlaybackPath != "" {
		cfg.Audio.PlaybackPath = resolvePath(rootDir, cfg.Audio.PlaybackPath, "")
	}
	if cfg.Audio.CapturePath != "" {
		cfg.Audio.CapturePath = resolvePath(rootDir, cfg.Audio.CapturePath, "")
	}
	if cfg.Log.File.Path != "" {
		cfg.Log.File.Path = resolvePath(rootDir, cfg.Log.File.Path, "")
	}
	return cfg, nil
}

func (c Config) validate() error {
	a := c.Audio
	if a.SampleRate <= 0 || a.Channels <= 0 || a.FrameMs <= 0 {
		return fmt.Errorf("audio: sample_rate, channels and frame_ms must be positive")
	}
	if a.PlaybackRate <= 0 || a.DownlinkRate <= 0 || a.RingBufferMs <= 0 {
		return fmt.Errorf("audio: playback_rate, downlink_rate and ring_buffer_ms must be positive")
	}
	for name, codec := range map[string]string{"uplink_codec": a.UplinkCodec, "downlink_codec": a.DownlinkCodec} {
		switch strings.ToLower(codec) {
		case "pcm", "opus":
		default:
			return fmt.Errorf("audio: %s %q is not pcm or opus", name, codec)
		}
	}
	return nil
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("CONVAI_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return wd, nil
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
