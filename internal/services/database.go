package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
	"time"

	"evalgo.org/damp/internal/docker"
	"evalgo.org/damp/internal/metrics"
	"evalgo.org/damp/internal/registry"
	"evalgo.org/damp/models"
)

var dbNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_\-]{0,63}$`)

// engine builds the client commands of one database family.
type engine struct {
	list    func(env map[string]string) []string
	dump    func(env map[string]string, db string) []string
	restore func(env map[string]string, db string) []string
	system  []string
}

func mysqlEngine(client, dumper, rootVar string) engine {
	return engine{
		list: func(env map[string]string) []string {
			return []string{client, "-uroot", "-p" + env[rootVar], "-N", "-B", "-e", "SHOW DATABASES"}
		},
		dump: func(env map[string]string, db string) []string {
			return []string{dumper, "-uroot", "-p" + env[rootVar], "--single-transaction", "--routines", db}
		},
		restore: func(env map[string]string, db string) []string {
			return []string{client, "-uroot", "-p" + env[rootVar], db}
		},
		system: []string{"information_schema", "mysql", "performance_schema", "sys"},
	}
}

var engines = map[string]engine{
	registry.MySQL:   mysqlEngine("mysql", "mysqldump", "MYSQL_ROOT_PASSWORD"),
	registry.MariaDB: mysqlEngine("mariadb", "mariadb-dump", "MARIADB_ROOT_PASSWORD"),
	registry.PostgreSQL: {
		list: func(env map[string]string) []string {
			return []string{"psql", "-U", env["POSTGRES_USER"], "-d", "postgres", "-At", "-c",
				"SELECT datname FROM pg_database WHERE datistemplate = false"}
		},
		dump: func(env map[string]string, db string) []string {
			return []string{"pg_dump", "-U", env["POSTGRES_USER"], "--clean", "--if-exists", db}
		},
		restore: func(env map[string]string, db string) []string {
			return []string{"psql", "-U", env["POSTGRES_USER"], "-d", db}
		},
		system: []string{"postgres"},
	},
	registry.MongoDB: {
		list: func(env map[string]string) []string {
			return append(mongoAuth("mongosh", env), "--quiet", "--eval",
				"db.adminCommand({listDatabases: 1}).databases.forEach(d => print(d.name))")
		},
		dump: func(env map[string]string, db string) []string {
			return append(mongoAuth("mongodump", env), "--archive", "--db", db)
		},
		restore: func(env map[string]string, db string) []string {
			return append(mongoAuth("mongorestore", env), "--archive", "--nsInclude", db+".*", "--drop")
		},
		system: []string{"admin", "config", "local"},
	},
}

func mongoAuth(bin string, env map[string]string) []string {
	return []string{bin,
		"--username", env["MONGO_INITDB_ROOT_USERNAME"],
		"--password", env["MONGO_INITDB_ROOT_PASSWORD"],
		"--authenticationDatabase", "admin"}
}

func envMap(vars []string) map[string]string {
	out := make(map[string]string, len(vars))
	for _, kv := range vars {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// ready returns the container and environment of a database service that
// is running and, when it declares a healthcheck, healthy.
func (m *Manager) ready(ctx context.Context, serviceID string) (string, engine, map[string]string, error) {
	eng, ok := engines[serviceID]
	if !ok {
		if _, err := definition(serviceID); err != nil {
			return "", engine{}, nil, err
		}
		return "", engine{}, nil, fmt.Errorf("service %s does not support database operations", serviceID)
	}

	ref, err := m.require(ctx, serviceID)
	if err != nil {
		return "", engine{}, nil, err
	}
	state, err := m.docker.GetContainerState(ctx, ref.ID)
	if err != nil {
		return "", engine{}, nil, err
	}
	if !state.IsHealthy() {
		return "", engine{}, nil, fmt.Errorf("%w: %s is %s (health %s)", ErrNotReady, serviceID, state.State, state.HealthStatus)
	}
	return ref.ID, eng, envMap(state.EnvVars), nil
}

// ListDatabases returns the user databases of a database service.
func (m *Manager) ListDatabases(ctx context.Context, serviceID string) models.Result[[]string] {
	start := time.Now()
	dbs, err := m.listDatabases(ctx, serviceID)
	metrics.Observe("services", "list_databases", start, err)
	if err != nil {
		return models.Fail[[]string](err)
	}
	return models.OK(dbs)
}

func (m *Manager) listDatabases(ctx context.Context, serviceID string) ([]string, error) {
	id, eng, env, err := m.ready(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	res, err := m.docker.ExecChecked(ctx, id, eng.list(env), docker.ExecOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}

	var dbs []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		name := strings.TrimSpace(line)
		if name == "" || slices.Contains(eng.system, name) {
			continue
		}
		dbs = append(dbs, name)
	}
	return dbs, nil
}

// DumpDatabase returns a dump of db in the native format of the engine.
func (m *Manager) DumpDatabase(ctx context.Context, serviceID, db string) models.Result[[]byte] {
	start := time.Now()
	data, err := m.dumpDatabase(ctx, serviceID, db)
	metrics.Observe("services", "dump_database", start, err)
	if err != nil {
		return models.Fail[[]byte](err)
	}
	return models.OK(data)
}

func (m *Manager) dumpDatabase(ctx context.Context, serviceID, db string) ([]byte, error) {
	if !dbNamePattern.MatchString(db) {
		return nil, fmt.Errorf("invalid database name %q", db)
	}
	id, eng, env, err := m.ready(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	res, err := m.docker.ExecChecked(ctx, id, eng.dump(env, db), docker.ExecOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to dump %s: %w", db, err)
	}
	m.logger.Info("dumped database", "service", serviceID, "database", db, "bytes", len(res.Stdout))
	return []byte(res.Stdout), nil
}

// RestoreDatabase feeds dump into the engine's restore client.
func (m *Manager) RestoreDatabase(ctx context.Context, serviceID, db string, dump io.Reader) models.Result[models.Empty] {
	start := time.Now()
	err := m.restoreDatabase(ctx, serviceID, db, dump)
	metrics.Observe("services", "restore_database", start, err)
	if err != nil {
		return models.Fail[models.Empty](err)
	}
	return models.OK(models.Empty{})
}

func (m *Manager) restoreDatabase(ctx context.Context, serviceID, db string, dump io.Reader) error {
	if !dbNamePattern.MatchString(db) {
		return fmt.Errorf("invalid database name %q", db)
	}
	if dump == nil {
		dump = bytes.NewReader(nil)
	}
	id, eng, env, err := m.ready(ctx, serviceID)
	if err != nil {
		return err
	}
	if _, err := m.docker.ExecChecked(ctx, id, eng.restore(env, db), docker.ExecOptions{Stdin: dump}); err != nil {
		return fmt.Errorf("failed to restore %s: %w", db, err)
	}
	m.logger.Info("restored database", "service", serviceID, "database", db)
	return nil
}
