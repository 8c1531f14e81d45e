package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

const defaultEnvFile = ".env"

var (
	envFilePath string
	parseOnce   sync.Once

	loadMu   sync.Mutex
	loadedAt string
)

func MustNew[T any](prefix string) *T {
	conf, err := New[T](prefix)
	if err != nil {
		panic(err)
	}
	return conf
}

// New fills T from the environment under prefix. The file named by -env, or ./.env when
// present, is exported first; variables already set in the process win over the file.
func New[T any](prefix string) (*T, error) {
	if err := Load(resolveEnvPath()); err != nil {
		return nil, err
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, fmt.Errorf("process %s config: %w", displayPrefix(prefix), err)
	}

	return &conf, nil
}

// Load exports an env file into the process environment once per path. An empty path
// falls back to ./.env and is skipped when that file does not exist.
func Load(path string) error {
	required := path != ""
	if !required {
		path = defaultEnvFile
	}

	loadMu.Lock()
	defer loadMu.Unlock()
	if loadedAt == path {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	if info.IsDir() {
		return nil
	}

	if err := exportEnvironment(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	loadedAt = path
	return nil
}

func resolveEnvPath() string {
	parseOnce.Do(func() {
		if flag.Lookup("env") == nil {
			flag.StringVar(&envFilePath, "env", "", "path to .env file")
		}
		if !flag.Parsed() {
			flag.Parse()
		}
	})
	return strings.TrimSpace(envFilePath)
}

func exportEnvironment(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if ext := filepath.Ext(path); ext == "" || ext == ".env" || strings.HasPrefix(filepath.Base(path), ".env") {
		v.SetConfigType("env")
	}
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	for k, val := range v.AllSettings() {
		key := strings.ToUpper(k)
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return err
		}
	}

	return nil
}

func displayPrefix(prefix string) string {
	if prefix == "" {
		return "root"
	}
	return prefix
}
