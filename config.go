package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	modeWord   = "word"
	modeTrivia = "trivia"
)

type Config struct {
	authURL        string
	bind           string
	comboBonus     int
	comboThreshold int
	database       string
	generationKey  string
	generationURL  string
	maxGuessLength int
	maxTopics      int
	minWordLength  int
	mode           string
	port           int
	prefix         string
	profile        bool
	roundDuration  time.Duration
	tlsCert        string
	tlsKey         string
	topicRetention time.Duration
	topicWorkers   int
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.mode != modeWord && c.mode != modeTrivia {
		return fmt.Errorf("invalid mode (must be %q or %q): %q", modeWord, modeTrivia, c.mode)
	}
	if c.roundDuration < 3*time.Second {
		return fmt.Errorf("invalid round duration (must be at least 3s): %s", c.roundDuration)
	}
	if c.maxGuessLength < 1 {
		return fmt.Errorf("invalid max guess length: %d", c.maxGuessLength)
	}
	if c.topicWorkers < 1 {
		return fmt.Errorf("invalid topic worker count: %d", c.topicWorkers)
	}
	if c.maxTopics < 1 {
		return fmt.Errorf("invalid max queued topics: %d", c.maxTopics)
	}
	if c.comboThreshold < 1 {
		return fmt.Errorf("invalid combo threshold: %d", c.comboThreshold)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("GUESSBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "guessbox",
		Short:         "A real-time shared-round word and trivia guessing game server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.authURL, "auth-url", "", "identity endpoint resolving auth codes to users (env: GUESSBOX_AUTH_URL)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: GUESSBOX_BIND)")
	fs.IntVar(&cfg.comboBonus, "combo-bonus", 25, "bonus points paid when a combo streak completes (env: GUESSBOX_COMBO_BONUS)")
	fs.IntVar(&cfg.comboThreshold, "combo-threshold", 3, "consecutive correct rounds needed for a combo bonus (env: GUESSBOX_COMBO_THRESHOLD)")
	fs.StringVar(&cfg.database, "database", "guessbox.db", "path to the sqlite database (env: GUESSBOX_DATABASE)")
	fs.StringVar(&cfg.generationKey, "generation-key", "", "api key for the generation/moderation endpoint (env: GUESSBOX_GENERATION_KEY)")
	fs.StringVar(&cfg.generationURL, "generation-url", "", "endpoint for trivia generation and moderation calls (env: GUESSBOX_GENERATION_URL)")
	fs.IntVar(&cfg.maxGuessLength, "max-guess-length", 30, "maximum guess length in characters (env: GUESSBOX_MAX_GUESS_LENGTH)")
	fs.IntVar(&cfg.maxTopics, "max-topics", 50, "maximum number of queued topics (env: GUESSBOX_MAX_TOPICS)")
	fs.IntVar(&cfg.minWordLength, "min-word-length", 5, "minimum length of sampled words (env: GUESSBOX_MIN_WORD_LENGTH)")
	fs.StringVarP(&cfg.mode, "mode", "m", modeWord, "game mode, either word or trivia (env: GUESSBOX_MODE)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: GUESSBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: GUESSBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: GUESSBOX_PROFILE)")
	fs.DurationVar(&cfg.roundDuration, "round-duration", 60*time.Second, "length of each round (env: GUESSBOX_ROUND_DURATION)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: GUESSBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: GUESSBOX_TLS_KEY)")
	fs.DurationVar(&cfg.topicRetention, "topic-retention", 5*time.Minute, "time failed topics are kept before removal (env: GUESSBOX_TOPIC_RETENTION)")
	fs.IntVar(&cfg.topicWorkers, "topic-workers", 2, "number of topic pipeline workers (env: GUESSBOX_TOPIC_WORKERS)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: GUESSBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: GUESSBOX_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("guessbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
