package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting of the quiz grader binaries.
type Config struct {
	NATS   NATSConfig   `mapstructure:"nats"`
	Runner RunnerConfig `mapstructure:"runner"`
	Mongo  MongoConfig  `mapstructure:"mongo"`
	Redis  RedisConfig  `mapstructure:"redis"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	Log    LogConfig    `mapstructure:"log"`

	// Source is the config file that was read, empty when running on
	// defaults and environment variables only.
	Source string `mapstructure:"-"`
}

type NATSConfig struct {
	URL                 string `mapstructure:"url"`
	GradeRequestSubject string `mapstructure:"gradeRequestSubject"`
	GradeResultSubject  string `mapstructure:"gradeResultSubject"`
	QueueGroup          string `mapstructure:"queueGroup"`
	MaxReconnects       int    `mapstructure:"maxReconnects"`
	ReconnectWaitSec    int    `mapstructure:"reconnectWaitSec"`
}

// RunnerConfig controls how submissions are compiled and executed.
type RunnerConfig struct {
	WorkDir               string `mapstructure:"workDir"`               // parent of the per-call temp directories, os.TempDir() when empty
	CompilationTimeoutSec int    `mapstructure:"compilationTimeoutSec"` // compile step wall clock limit
	RunTimeoutMs          int    `mapstructure:"runTimeoutMs"`          // wall clock limit of one program run
	MemoryLimitKb         int    `mapstructure:"memoryLimitKb"`
	JobTimeoutSec         int    `mapstructure:"jobTimeoutSec"` // upper bound for a whole worker job
	MaxConcurrentJobs     int    `mapstructure:"maxConcurrentJobs"`
	SandboxType           string `mapstructure:"sandboxType"` // direct | isolate
	EntryFunction         string `mapstructure:"entryFunction"`
	MetricsAddr           string `mapstructure:"metricsAddr"` // runner /metrics listener, disabled when empty

	Languages map[string]LanguageConfig `mapstructure:"languages"`
	Isolate   IsolateConfig             `mapstructure:"isolate"`
}

// LanguageConfig describes how to build and run one language. Commands are
// templates: {source_file} and {work_dir} are substituted before the
// command is split into arguments.
type LanguageConfig struct {
	SourceFile     string `mapstructure:"sourceFile"`
	CompileCommand string `mapstructure:"compileCommand"` // empty for interpreted languages
	RunCommand     string `mapstructure:"runCommand"`
	// InvokeTemplate is appended once per test case to interpreted sources;
	// {entry} and {input} are substituted.
	InvokeTemplate string `mapstructure:"invokeTemplate"`
}

type IsolateConfig struct {
	Path             string  `mapstructure:"path"`
	EnvPath          string  `mapstructure:"envPath"`
	FsizeKb          int     `mapstructure:"fsizeKb"`
	Processes        int     `mapstructure:"processes"`
	ExtraTimeSeconds float64 `mapstructure:"extraTimeSeconds"`
	WallTimeFactor   float64 `mapstructure:"wallTimeFactor"`
	TempDir          string  `mapstructure:"tempDir"`
}

type MongoConfig struct {
	URI                   string `mapstructure:"uri"`
	Database              string `mapstructure:"database"`
	QuestionsCollection   string `mapstructure:"questionsCollection"`
	TestCasesCollection   string `mapstructure:"testCasesCollection"`
	SubmissionsCollection string `mapstructure:"submissionsCollection"`
	ConnectTimeoutSec     int    `mapstructure:"connectTimeoutSec"`
}

type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	SessionTTLMin int    `mapstructure:"sessionTtlMin"`
}

type HTTPConfig struct {
	Addr            string `mapstructure:"addr"`
	ReadTimeoutSec  int    `mapstructure:"readTimeoutSec"`
	WriteTimeoutSec int    `mapstructure:"writeTimeoutSec"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// JobTimeout is the deadline of one grading job, worker or HTTP.
func (r RunnerConfig) JobTimeout() time.Duration {
	if r.JobTimeoutSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(r.JobTimeoutSec) * time.Second
}

// HTTPWriteTimeout keeps the response deadline past the grading deadline so
// a slow verdict is not cut off mid write.
func (c *Config) HTTPWriteTimeout() time.Duration {
	write := time.Duration(c.HTTP.WriteTimeoutSec) * time.Second
	if floor := c.Runner.JobTimeout() + 30*time.Second; write < floor {
		return floor
	}
	return write
}

// LoadConfig reads configuration from an optional config file and from
// QUIZ_* environment variables, on top of built-in defaults.
func LoadConfig(configPaths ...string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/quiz-grader/")

	// QUIZ_RUNNER_RUNTIMEOUTMS overrides runner.runTimeoutMs
	v.AutomaticEnv()
	v.SetEnvPrefix("QUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	var source string
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, err
		}
	} else {
		source = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Source = source
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.gradeRequestSubject", "grade.requested")
	v.SetDefault("nats.gradeResultSubject", "grade.completed")
	v.SetDefault("nats.queueGroup", "quiz-grader-group")
	v.SetDefault("nats.maxReconnects", 5)
	v.SetDefault("nats.reconnectWaitSec", 2)

	v.SetDefault("runner.workDir", "")
	v.SetDefault("runner.compilationTimeoutSec", 30)
	v.SetDefault("runner.runTimeoutMs", 5000)
	v.SetDefault("runner.memoryLimitKb", 262144)
	v.SetDefault("runner.jobTimeoutSec", 300)
	v.SetDefault("runner.maxConcurrentJobs", 16)
	v.SetDefault("runner.sandboxType", "direct")
	v.SetDefault("runner.entryFunction", "square")
	v.SetDefault("runner.metricsAddr", ":9091")

	v.SetDefault("runner.languages.python.sourceFile", "main.py")
	v.SetDefault("runner.languages.python.compileCommand", "")
	v.SetDefault("runner.languages.python.runCommand", "python3 {source_file}")
	v.SetDefault("runner.languages.python.invokeTemplate", "print({entry}({input}))")
	v.SetDefault("runner.languages.java.sourceFile", "Main.java")
	v.SetDefault("runner.languages.java.compileCommand", "javac -encoding UTF-8 {source_file}")
	v.SetDefault("runner.languages.java.runCommand", "java -cp . Main")
	v.SetDefault("runner.languages.java.invokeTemplate", "")

	v.SetDefault("runner.isolate.path", "isolate")
	v.SetDefault("runner.isolate.envPath", "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
	v.SetDefault("runner.isolate.fsizeKb", 65536)
	v.SetDefault("runner.isolate.processes", 64)
	v.SetDefault("runner.isolate.extraTimeSeconds", 2.0)
	v.SetDefault("runner.isolate.wallTimeFactor", 2.0)
	v.SetDefault("runner.isolate.tempDir", "")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "quiz")
	v.SetDefault("mongo.questionsCollection", "questions")
	v.SetDefault("mongo.testCasesCollection", "test_cases")
	v.SetDefault("mongo.submissionsCollection", "submissions")
	v.SetDefault("mongo.connectTimeoutSec", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.sessionTtlMin", 480)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeoutSec", 30)
	v.SetDefault("http.writeTimeoutSec", 330)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}
