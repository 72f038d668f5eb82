package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/akamensky/argparse"
	"github.com/joho/godotenv"
)

// Inference engines.
const (
	EngineEdgeTPU = "edgetpu"
	EngineTFLite  = "tflite"
	EngineOpenCV  = "opencv"
)

// Display modes.
const (
	DisplayWindow   = "window"
	DisplayHeadless = "headless"
)

// Telemetry sink names.
const (
	SinkLog       = "log"
	SinkIoTHub    = "iothub"
	SinkHTTP      = "http"
	SinkSQLite    = "sqlite"
	SinkWebsocket = "websocket"
)

const defaultModelDir = "../all_models"

type Config struct {
	ModelPath     string
	LabelsPath    string
	Engine        string
	DNNConfigPath string // Only used by the opencv engine (eg a .pbtxt)

	CameraIndex int
	FrameWidth  int
	FrameHeight int
	FrameRate   int

	Threshold float64
	TopK      int
	QueueSize int // Capacity of each frame queue

	DisplayMode string
	WindowName  string

	TelemetrySinks    []string
	ConnectionString  string // Azure IoT Hub device connection string
	TelemetryURL      string
	TelemetryToken    string
	TelemetryTimeout  time.Duration
	TelemetryQueueLen int

	DatabasePath     string
	JournalRetention time.Duration // Journaled frames older than this are pruned, 0 keeps everything
	ListenAddr       string        // HTTP address for live view and metrics, "" disables it
	ViewerToken      string        // Required by the HTTP API when set
	LogDirectory     string
	LogLevel         string
}

// Load reads the configuration from the environment, falling back to defaults.
func Load() *Config {
	return &Config{
		ModelPath:         getEnv("MODEL_PATH", filepath.Join(defaultModelDir, "mobilenet_ssd_v2_coco_quant_postprocess_edgetpu.tflite")),
		LabelsPath:        getEnv("LABELS_PATH", filepath.Join(defaultModelDir, "coco_labels.txt")),
		Engine:            getEnv("ENGINE", EngineEdgeTPU),
		DNNConfigPath:     getEnv("DNN_CONFIG_PATH", ""),
		CameraIndex:       getEnvAsInt("CAMERA_IDX", 0),
		FrameWidth:        getEnvAsInt("FRAME_WIDTH", 640),
		FrameHeight:       getEnvAsInt("FRAME_HEIGHT", 480),
		FrameRate:         getEnvAsInt("FRAME_RATE", 10),
		Threshold:         getEnvAsFloat("THRESHOLD", 0.5),
		TopK:              getEnvAsInt("TOP_K", 5),
		QueueSize:         getEnvAsInt("QUEUE_SIZE", 2),
		DisplayMode:       getEnv("DISPLAY_MODE", DisplayWindow),
		WindowName:        getEnv("WINDOW_NAME", "frame"),
		TelemetrySinks:    splitList(getEnv("TELEMETRY_SINKS", SinkLog)),
		ConnectionString:  getEnv("IOTHUB_CONNECTION_STRING", ""),
		TelemetryURL:      getEnv("TELEMETRY_URL", ""),
		TelemetryToken:    getEnv("TELEMETRY_TOKEN", ""),
		TelemetryTimeout:  getEnvAsDuration("TELEMETRY_TIMEOUT", 5*time.Second),
		TelemetryQueueLen: getEnvAsInt("TELEMETRY_QUEUE", 32),
		DatabasePath:      getEnv("DB_PATH", filepath.Join(".", "detections.db")),
		JournalRetention:  getEnvAsDuration("JOURNAL_RETENTION", 0),
		ListenAddr:        getEnv("LISTEN_ADDR", ""),
		ViewerToken:       getEnv("VIEWER_TOKEN", ""),
		LogDirectory:      getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
}

// Parse loads .env (if present), then the environment, then applies command line flags.
// args includes the program name, as in os.Args.
func Parse(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg := Load()

	parser := argparse.NewParser("coralcam", "Object detection on camera frames with an edge accelerator")
	model := parser.String("", "model", &argparse.Options{Help: ".tflite model path", Default: cfg.ModelPath})
	labelsPath := parser.String("", "labels", &argparse.Options{Help: "label file path", Default: cfg.LabelsPath})
	engine := parser.Selector("", "engine", []string{EngineEdgeTPU, EngineTFLite, EngineOpenCV}, &argparse.Options{Help: "inference engine", Default: cfg.Engine})
	dnnConfig := parser.String("", "dnn_config", &argparse.Options{Help: "network config file for the opencv engine", Default: cfg.DNNConfigPath})
	cameraIdx := parser.Int("", "camera_idx", &argparse.Options{Help: "Index of which video source to use", Default: cfg.CameraIndex})
	width := parser.Int("", "width", &argparse.Options{Help: "Width of the video frame", Default: cfg.FrameWidth})
	height := parser.Int("", "height", &argparse.Options{Help: "Height of the video frame", Default: cfg.FrameHeight})
	frameRate := parser.Int("", "frame_rate", &argparse.Options{Help: "Frame rate for video capture", Default: cfg.FrameRate})
	threshold := parser.Float("", "threshold", &argparse.Options{Help: "classifier score threshold", Default: cfg.Threshold})
	topK := parser.Int("", "top_k", &argparse.Options{Help: "number of categories with highest score to display", Default: cfg.TopK})
	queueSize := parser.Int("", "queue_size", &argparse.Options{Help: "capacity of each frame queue", Default: cfg.QueueSize})
	display := parser.Selector("", "display", []string{DisplayWindow, DisplayHeadless}, &argparse.Options{Help: "display surface", Default: cfg.DisplayMode})
	sinks := parser.String("", "telemetry", &argparse.Options{Help: "comma separated telemetry sinks (log, iothub, http, sqlite, websocket)", Default: strings.Join(cfg.TelemetrySinks, ",")})
	connStr := parser.String("", "connection_string", &argparse.Options{Help: "Azure IoT Hub device connection string", Default: cfg.ConnectionString})
	telemetryURL := parser.String("", "telemetry_url", &argparse.Options{Help: "URL for the http telemetry sink", Default: cfg.TelemetryURL})
	telemetryToken := parser.String("", "telemetry_token", &argparse.Options{Help: "bearer token for the http telemetry sink", Default: cfg.TelemetryToken})
	telemetryTimeout := parser.String("", "telemetry_timeout", &argparse.Options{Help: "maximum time for one telemetry delivery", Default: cfg.TelemetryTimeout.String()})
	dbPath := parser.String("", "db", &argparse.Options{Help: "SQLite detection journal path", Default: cfg.DatabasePath})
	retention := parser.String("", "retention", &argparse.Options{Help: "prune journaled frames older than this (0 keeps all)", Default: cfg.JournalRetention.String()})
	listen := parser.String("", "listen", &argparse.Options{Help: "HTTP address for live view and metrics (eg :8080)", Default: cfg.ListenAddr})
	viewerToken := parser.String("", "viewer_token", &argparse.Options{Help: "token required by the HTTP API", Default: cfg.ViewerToken})
	logDir := parser.String("", "log_dir", &argparse.Options{Help: "log directory", Default: cfg.LogDirectory})
	logLevel := parser.String("", "log_level", &argparse.Options{Help: "debug, info, warning or error", Default: cfg.LogLevel})

	if err := parser.Parse(args); err != nil {
		return nil, errors.New(parser.Usage(err))
	}

	timeout, err := time.ParseDuration(*telemetryTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid telemetry_timeout: %w", err)
	}
	keep, err := time.ParseDuration(*retention)
	if err != nil {
		return nil, fmt.Errorf("invalid retention: %w", err)
	}

	cfg.ModelPath = *model
	cfg.LabelsPath = *labelsPath
	cfg.Engine = *engine
	cfg.DNNConfigPath = *dnnConfig
	cfg.CameraIndex = *cameraIdx
	cfg.FrameWidth = *width
	cfg.FrameHeight = *height
	cfg.FrameRate = *frameRate
	cfg.Threshold = *threshold
	cfg.TopK = *topK
	cfg.QueueSize = *queueSize
	cfg.DisplayMode = *display
	cfg.TelemetrySinks = splitList(*sinks)
	cfg.ConnectionString = *connStr
	cfg.TelemetryURL = *telemetryURL
	cfg.TelemetryToken = *telemetryToken
	cfg.TelemetryTimeout = timeout
	cfg.DatabasePath = *dbPath
	cfg.JournalRetention = keep
	cfg.ListenAddr = *listen
	cfg.ViewerToken = *viewerToken
	cfg.LogDirectory = *logDir
	cfg.LogLevel = *logLevel

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	var problems []string
	if math.IsNaN(c.Threshold) || c.Threshold < 0 || c.Threshold > 1 {
		problems = append(problems, fmt.Sprintf("threshold must be between 0 and 1, got %v", c.Threshold))
	}
	if c.TopK <= 0 {
		problems = append(problems, fmt.Sprintf("top_k must be positive, got %d", c.TopK))
	}
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		problems = append(problems, fmt.Sprintf("invalid frame size %dx%d", c.FrameWidth, c.FrameHeight))
	}
	if c.FrameRate <= 0 {
		problems = append(problems, fmt.Sprintf("frame_rate must be positive, got %d", c.FrameRate))
	}
	if c.QueueSize <= 0 {
		problems = append(problems, fmt.Sprintf("queue_size must be positive, got %d", c.QueueSize))
	}
	if c.TelemetryTimeout <= 0 {
		problems = append(problems, "telemetry_timeout must be positive")
	}
	if c.JournalRetention < 0 {
		problems = append(problems, "retention must not be negative")
	}
	switch c.Engine {
	case EngineEdgeTPU, EngineTFLite, EngineOpenCV:
	default:
		problems = append(problems, fmt.Sprintf("unknown engine %q", c.Engine))
	}
	switch c.DisplayMode {
	case DisplayWindow, DisplayHeadless:
	default:
		problems = append(problems, fmt.Sprintf("unknown display mode %q", c.DisplayMode))
	}
	if c.DisplayMode == DisplayHeadless && c.ListenAddr == "" {
		problems = append(problems, "headless display requires --listen")
	}
	for _, sink := range c.TelemetrySinks {
		switch sink {
		case SinkLog, SinkSQLite:
		case SinkIoTHub:
			if c.ConnectionString == "" {
				problems = append(problems, "iothub telemetry requires a connection string")
			}
		case SinkHTTP:
			if c.TelemetryURL == "" {
				problems = append(problems, "http telemetry requires telemetry_url")
			}
		case SinkWebsocket:
			if c.ListenAddr == "" {
				problems = append(problems, "websocket telemetry requires --listen")
			}
		default:
			problems = append(problems, fmt.Sprintf("unknown telemetry sink %q", sink))
		}
	}
	if len(problems) != 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// HasSink reports whether the named telemetry sink is enabled.
func (c *Config) HasSink(name string) bool {
	for _, s := range c.TelemetrySinks {
		if s == name {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
