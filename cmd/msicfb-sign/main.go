// Command msicfb-sign reads a job description in YAML, inserts a caller-
// supplied PKCS#7 signature (and optional metadata pre-hash payload) into an
// MSI/CFB image, and writes the resulting signed image to disk.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/aligator/msicfb"
)

type logConfig struct {
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

type jobConfig struct {
	Input         string    `yaml:"input"`
	Output        string    `yaml:"output"`
	SignatureFile string    `yaml:"signatureFile"`
	PrehashFile   string    `yaml:"prehashFile"`
	Logs          logConfig `yaml:"logs"`
}

func loadConfig(path string) (jobConfig, error) {
	var cfg jobConfig
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}

	baseDir := filepath.Dir(path)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Clean(filepath.Join(baseDir, p))
	}
	cfg.Input = resolve(cfg.Input)
	cfg.Output = resolve(cfg.Output)
	cfg.SignatureFile = resolve(cfg.SignatureFile)
	cfg.PrehashFile = resolve(cfg.PrehashFile)

	if cfg.Output == "" {
		cfg.Output = cfg.Input + ".signed"
	}
	if cfg.Logs.Directory == "" {
		cfg.Logs.Directory = filepath.Join(baseDir, "logs")
	}
	if cfg.Logs.MaxSizeMB <= 0 {
		cfg.Logs.MaxSizeMB = 25
	}
	if cfg.Logs.MaxAgeDays <= 0 {
		cfg.Logs.MaxAgeDays = 7
	}
	if cfg.Logs.MaxBackups <= 0 {
		cfg.Logs.MaxBackups = 5
	}
	return cfg, nil
}

func setupLogging(cfg jobConfig) error {
	if err := os.MkdirAll(cfg.Logs.Directory, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Logs.Directory, "msicfb-sign.log"),
		MaxSize:    cfg.Logs.MaxSizeMB,
		MaxAge:     cfg.Logs.MaxAgeDays,
		MaxBackups: cfg.Logs.MaxBackups,
		Compress:   cfg.Logs.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return nil
}

func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the signing job configuration")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := setupLogging(cfg); err != nil {
		log.Fatalf("setup logging: %v", err)
	}

	inputBuf, err := os.ReadFile(cfg.Input)
	if err != nil {
		log.Fatalf("read input: %v", err)
	}
	signature, err := readOptional(cfg.SignatureFile)
	if err != nil {
		log.Fatalf("read signature file: %v", err)
	}
	if len(signature) == 0 {
		log.Fatalf("signatureFile is required and must be non-empty")
	}
	prehash, err := readOptional(cfg.PrehashFile)
	if err != nil {
		log.Fatalf("read prehash file: %v", err)
	}

	img, root, err := msicfb.Root(inputBuf)
	if err != nil {
		log.Fatalf("parse input image: %v", err)
	}

	out := msicfb.NewBuffer()
	if err := msicfb.Write(img, root, signature, prehash, out); err != nil {
		log.Fatalf("write signed image: %v", err)
	}

	if err := os.WriteFile(cfg.Output, out.Bytes(), 0o644); err != nil {
		log.Fatalf("write output: %v", err)
	}

	log.Printf("signed %s -> %s (%d bytes)", cfg.Input, cfg.Output, len(out.Bytes()))
}
