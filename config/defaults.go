package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Repo defaults
	v.SetDefault("repo.dir", ".")
	v.SetDefault("repo.remote", "origin")
	v.SetDefault("repo.base_branch", "leader")
	v.SetDefault("repo.worktrees_dir", "../worktrees")

	// Verify defaults
	v.SetDefault("verify.install", "npm install")
	v.SetDefault("verify.build", "npm run build")
	v.SetDefault("verify.test", "npm test")
	// Applied to the test step's output only. Patterns stay narrow:
	// something like a bare "error" match would flag passing runs whose
	// logs merely mention the word.
	v.SetDefault("verify.failure_markers", []string{
		`\d+\s+failed`,
		`(?i)tests?\s+failed`,
	})
	v.SetDefault("verify.step_timeout_seconds", 900)
	v.SetDefault("verify.max_log_bytes", 2000)
	v.SetDefault("verify.workers", 1)

	// Index defaults
	v.SetDefault("index.path", "leaderops.db")

	// Session defaults
	v.SetDefault("session.timeout_seconds", 30)
	v.SetDefault("session.poll_seconds", 30)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("session.api_key", "LEADEROPS_SESSION_API_KEY")
	v.BindEnv("index.path", "LEADEROPS_INDEX_PATH")
}
