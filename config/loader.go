package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/creasty/defaults"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fring-app/fring-core/errors"
)

// Options controls where configuration is read from.
type Options struct {
	BasePath  string
	FileName  string
	FileType  string
	EnvPrefix string
	Mode      EnvMode
}

// DefaultOptions reads config/config.yaml and friends, or CONFIG_PATH.
func DefaultOptions() Options {
	basePath := os.Getenv("CONFIG_PATH")
	if basePath == "" {
		basePath = "config"
	}
	return Options{
		BasePath:  basePath,
		FileName:  "config",
		FileType:  "yaml",
		EnvPrefix: "FRING",
		Mode:      CurrentEnvMode(),
	}
}

// Loader holds the loaded configuration and can watch its files.
type Loader struct {
	opts  Options
	files []string

	mu  sync.RWMutex
	cfg AppConfig

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Load reads every config file that exists for opts, layered in order
// config, config.local, config.{mode}, config.{mode}.local. No file at all
// is fine: defaults and environment still apply.
func Load(opts Options) (*Loader, error) {
	l := &Loader{opts: opts, files: configFiles(opts)}
	cfg, err := l.read()
	if err != nil {
		return nil, err
	}
	l.cfg = cfg
	return l, nil
}

// Config returns the current configuration.
func (l *Loader) Config() AppConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Files lists the files that were layered, lowest priority first.
func (l *Loader) Files() []string {
	return append([]string(nil), l.files...)
}

func (l *Loader) read() (AppConfig, error) {
	var cfg AppConfig
	// Defaults go in first so values from files can still switch bools off.
	if err := defaults.Set(&cfg); err != nil {
		return cfg, errors.NewConfig("set defaults", err)
	}

	v := viper.New()
	v.SetConfigType(l.opts.FileType)
	for _, path := range l.files {
		tmp := viper.New()
		tmp.SetConfigFile(path)
		if err := tmp.ReadInConfig(); err != nil {
			return cfg, errors.NewConfig(fmt.Sprintf("read config file %s", path), err)
		}
		if err := v.MergeConfigMap(tmp.AllSettings()); err != nil {
			return cfg, errors.NewConfig(fmt.Sprintf("merge config file %s", path), err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	if l.opts.EnvPrefix != "" {
		v.SetEnvPrefix(l.opts.EnvPrefix)
	}
	v.AutomaticEnv()
	for _, key := range structKeys(reflect.TypeOf(cfg), "") {
		_ = v.BindEnv(key)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.NewConfig("unmarshal config", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Watch reloads the configuration whenever one of the loaded files changes
// and passes the new value to onChange. Invalid reloads are logged and
// ignored.
func (l *Loader) Watch(logger *zap.Logger, onChange func(AppConfig)) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	l.watchMu.Lock()
	defer l.watchMu.Unlock()
	if l.watcher != nil {
		return nil
	}
	if len(l.files) == 0 {
		return errors.NewConfig("no config files to watch", nil)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.NewConfig("create config watcher", err)
	}
	watched := make(map[string]struct{}, len(l.files))
	dirs := make(map[string]struct{})
	for _, f := range l.files {
		abs, _ := filepath.Abs(f)
		watched[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	// Watch directories: editors replace files on save.
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return errors.NewConfig("watch "+dir, err)
		}
	}

	l.watcher = w
	l.done = make(chan struct{})
	go l.watchLoop(w, watched, logger, onChange, l.done)
	return nil
}

func (l *Loader) watchLoop(w *fsnotify.Watcher, watched map[string]struct{}, logger *zap.Logger, onChange func(AppConfig), done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			abs, _ := filepath.Abs(ev.Name)
			if _, ok := watched[abs]; !ok {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := l.read()
			if err != nil {
				logger.Warn("config reload failed", zap.String("file", ev.Name), zap.Error(err))
				continue
			}
			l.mu.Lock()
			l.cfg = cfg
			l.mu.Unlock()
			logger.Info("config reloaded", zap.String("file", ev.Name))
			if onChange != nil {
				onChange(cfg)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Close stops watching.
func (l *Loader) Close() error {
	l.watchMu.Lock()
	w, done := l.watcher, l.done
	l.watcher = nil
	l.watchMu.Unlock()

	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}

func configFiles(opts Options) []string {
	names := []string{opts.FileName, opts.FileName + ".local"}
	for _, alias := range append([]string{string(opts.Mode)}, opts.Mode.aliases()...) {
		names = append(names, opts.FileName+"."+alias, opts.FileName+"."+alias+".local")
	}

	var files []string
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		path := filepath.Join(opts.BasePath, name+"."+opts.FileType)
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			files = append(files, path)
		}
	}
	return files
}

// structKeys lists the dotted mapstructure keys of every leaf field so the
// environment can override keys that no file mentions.
func structKeys(t reflect.Type, prefix string) []string {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			name = strings.ToLower(f.Name)
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct && f.Type.PkgPath() != "time" {
			keys = append(keys, structKeys(f.Type, key)...)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}
