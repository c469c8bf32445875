package cli

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/pulse/pkg/session"
)

var (
	simCount        int
	simSeed         int64
	simCrashRate    float64
	simAbnormalRate float64
	simErrorRate    float64
	simUsers        int
	simSpread       time.Duration
	simReleases     []string
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Generate synthetic sessions and aggregate them",
	Long: `Generate synthetic sessions with configurable crash, abnormal and error
rates, then aggregate and deliver them like real traffic. Useful for checking
a collector or relay end to end.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().IntVar(&simCount, "count", 100, "number of sessions to generate")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "random seed (0 picks one from the clock)")
	simulateCmd.Flags().Float64Var(&simCrashRate, "crash-rate", 0.02, "fraction of sessions that crash")
	simulateCmd.Flags().Float64Var(&simAbnormalRate, "abnormal-rate", 0.01, "fraction of sessions that end abnormally")
	simulateCmd.Flags().Float64Var(&simErrorRate, "error-rate", 0.1, "fraction of sessions that record errors")
	simulateCmd.Flags().IntVar(&simUsers, "users", 50, "number of distinct users")
	simulateCmd.Flags().DurationVar(&simSpread, "spread", 5*time.Minute, "window before now that session starts are spread over")
	simulateCmd.Flags().StringSliceVar(&simReleases, "release", nil, "releases to spread sessions across (default is the configured release)")
}

func validateSimulateFlags() error {
	if simCount < 0 {
		return fmt.Errorf("count must be non-negative")
	}
	if simUsers <= 0 {
		return fmt.Errorf("users must be positive")
	}
	if simSpread < 0 {
		return fmt.Errorf("spread must be non-negative")
	}
	for name, rate := range map[string]float64{
		"crash-rate":    simCrashRate,
		"abnormal-rate": simAbnormalRate,
		"error-rate":    simErrorRate,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}
	if simCrashRate+simAbnormalRate > 1 {
		return fmt.Errorf("crash-rate and abnormal-rate together must not exceed 1")
	}
	return nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if err := validateSimulateFlags(); err != nil {
		return err
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	seed := simSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	releases := simReleases
	if len(releases) == 0 {
		releases = []string{rt.cfg.Release}
	}

	base := rt.defaults()
	stats := newTally()
	now := time.Now()

	for i := 0; i < simCount; i++ {
		s := simulateSession(rng, base, releases, now)
		rt.flusher.AddSession(s)
		stats.add(s)
	}

	rt.log.Info().
		Int64("seed", seed).
		Int("sessions", simCount).
		Str("releases", strings.Join(releases, ",")).
		Msg("Simulation finished")

	if err := rt.Close(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: shutdown finished with errors: %v\n", err)
	}

	stats.print(cmd.OutOrStdout(), "Simulated")
	return nil
}

func simulateSession(rng *rand.Rand, base session.Context, releases []string, now time.Time) *session.Session {
	c := base
	if release := releases[rng.Intn(len(releases))]; release != "" {
		c.Release = session.Ptr(release)
	}
	c.User = &session.User{ID: fmt.Sprintf("user-%d", rng.Intn(simUsers))}

	var offset time.Duration
	if simSpread > 0 {
		offset = time.Duration(rng.Int63n(int64(simSpread)))
	}
	c.Started = session.Ptr(now.Add(-offset))

	s := session.New(c)

	if rng.Float64() < simErrorRate {
		s.Update(session.Context{Errors: session.Ptr(1 + rng.Intn(3))})
	}

	switch r := rng.Float64(); {
	case r < simCrashRate:
		s.CloseWithStatus(session.StatusCrashed)
	case r < simCrashRate+simAbnormalRate:
		s.Update(session.Context{AbnormalMechanism: session.Ptr("app_hang")})
		s.CloseWithStatus(session.StatusAbnormal)
	default:
		s.Close()
	}
	return s
}
