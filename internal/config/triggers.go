package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// TriggerSpec — описание периодического триггера в YAML-файле.
//
// Задаётся либо every (фиксированный интервал), либо cron
// (выражение robfig/cron, например "0 * * * *").
type TriggerSpec struct {
	Name       string         `yaml:"name"`
	Every      time.Duration  `yaml:"every"`
	Cron       string         `yaml:"cron"`
	EventType  string         `yaml:"event_type"`
	Payload    map[string]any `yaml:"payload"`
	Priority   int            `yaml:"priority"`
	TTLSeconds int            `yaml:"ttl_seconds"`
}

// TriggerFile — корень YAML-файла триггеров.
type TriggerFile struct {
	Triggers []TriggerSpec `yaml:"triggers"`
}

// UnmarshalYAML декодирует спецификацию; every задаётся строкой
// формата time.ParseDuration ("30s", "5m").
func (s *TriggerSpec) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name       string         `yaml:"name"`
		Every      string         `yaml:"every"`
		Cron       string         `yaml:"cron"`
		EventType  string         `yaml:"event_type"`
		Payload    map[string]any `yaml:"payload"`
		Priority   int            `yaml:"priority"`
		TTLSeconds int            `yaml:"ttl_seconds"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	s.Name = raw.Name
	s.Cron = raw.Cron
	s.EventType = raw.EventType
	s.Payload = raw.Payload
	s.Priority = raw.Priority
	s.TTLSeconds = raw.TTLSeconds

	if raw.Every != "" {
		d, err := time.ParseDuration(raw.Every)
		if err != nil {
			return fmt.Errorf("trigger %s: invalid every %q: %w", raw.Name, raw.Every, err)
		}
		s.Every = d
	}
	return nil
}

// Validate проверяет корректность спецификации.
func (s *TriggerSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("trigger without name")
	}
	if s.EventType == "" {
		return fmt.Errorf("trigger %s: event_type is required", s.Name)
	}
	if s.Every <= 0 && s.Cron == "" {
		return fmt.Errorf("trigger %s: either every or cron is required", s.Name)
	}
	if s.Every > 0 && s.Cron != "" {
		return fmt.Errorf("trigger %s: every and cron are mutually exclusive", s.Name)
	}
	return nil
}

// TriggerLoader читает файл триггеров и следит за его изменениями.
type TriggerLoader struct {
	path     string
	mu       sync.RWMutex
	current  []TriggerSpec
	onChange []func([]TriggerSpec)
}

// NewTriggerLoader создаёт загрузчик и выполняет первичное чтение.
func NewTriggerLoader(path string) (*TriggerLoader, error) {
	l := &TriggerLoader{path: path}
	specs, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = specs
	return l, nil
}

// Triggers возвращает актуальный набор триггеров.
func (l *TriggerLoader) Triggers() []TriggerSpec {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange регистрирует callback, вызываемый после перезагрузки файла.
func (l *TriggerLoader) OnChange(fn func([]TriggerSpec)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch запускает фоновое наблюдение за файлом через fsnotify.
// Возвращённая функция останавливает наблюдение.
func (l *TriggerLoader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("triggers watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("triggers watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				specs, err := l.load()
				if err != nil {
					// Невалидный файл: остаёмся на прежнем наборе.
					continue
				}
				l.mu.Lock()
				l.current = specs
				callbacks := make([]func([]TriggerSpec), len(l.onChange))
				copy(callbacks, l.onChange)
				l.mu.Unlock()
				for _, fn := range callbacks {
					fn(specs)
				}
			case <-w.Errors:
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

func (l *TriggerLoader) load() ([]TriggerSpec, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read triggers %s: %w", l.path, err)
	}
	var file TriggerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse triggers %s: %w", l.path, err)
	}
	for i := range file.Triggers {
		if err := file.Triggers[i].Validate(); err != nil {
			return nil, err
		}
	}
	return file.Triggers, nil
}
