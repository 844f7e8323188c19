package storage

import "time"

// Option configures either repository implementation. Options that only make
// sense for one backend are ignored by the other.
type Option interface {
	applyFile(*FileRepository)
	applyPostgres(*PostgresConfig)
}

type optionAdapter struct {
	file func(*FileRepository)
	pg   func(*PostgresConfig)
}

func (o optionAdapter) applyFile(repo *FileRepository) {
	if o.file != nil && repo != nil {
		o.file(repo)
	}
}

func (o optionAdapter) applyPostgres(cfg *PostgresConfig) {
	if o.pg != nil && cfg != nil {
		o.pg(cfg)
	}
}

func composeOption(file func(*FileRepository), pg func(*PostgresConfig)) Option {
	return optionAdapter{file: file, pg: pg}
}

func postgresOnlyOption(pg func(*PostgresConfig)) Option {
	return optionAdapter{pg: pg}
}

// WithClock overrides the clock used to stamp saved stacks.
func WithClock(now func() time.Time) Option {
	return composeOption(
		func(repo *FileRepository) {
			if now != nil {
				repo.now = now
			}
		},
		func(cfg *PostgresConfig) {
			if now != nil {
				cfg.Clock = now
			}
		},
	)
}

// WithPostgresPool sets connection pool limits.
func WithPostgresPool(maxConns, minConns int32, lifetime, idle time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if maxConns > 0 {
			cfg.MaxConnections = maxConns
		}
		if minConns >= 0 {
			cfg.MinConnections = minConns
		}
		if lifetime > 0 {
			cfg.MaxConnLifetime = lifetime
		}
		if idle > 0 {
			cfg.MaxConnIdleTime = idle
		}
	})
}

// WithPostgresAcquireTimeout bounds how long a connection attempt may take.
func WithPostgresAcquireTimeout(timeout time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.AcquireTimeout = timeout
		}
	})
}

// WithPostgresApplicationName sets the application_name runtime parameter.
func WithPostgresApplicationName(name string) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		cfg.ApplicationName = name
	})
}
