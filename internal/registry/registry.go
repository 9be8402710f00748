// Package registry is the static catalog of installable services.
//
// Definitions are compiled into the binary and never change at runtime.
// Every accessor returns a copy so callers can not mutate the catalog.
package registry

import (
	"sort"
	"time"

	"evalgo.org/damp/models"
)

// Service IDs.
const (
	Caddy       = "caddy"
	MySQL       = "mysql"
	MariaDB     = "mariadb"
	PostgreSQL  = "postgresql"
	MongoDB     = "mongodb"
	Redis       = "redis"
	Memcached   = "memcached"
	Mailpit     = "mailpit"
	Meilisearch = "meilisearch"
	Typesense   = "typesense"
	RabbitMQ    = "rabbitmq"
	MinIO       = "minio"
	PhpMyAdmin  = "phpmyadmin"
	Adminer     = "adminer"
)

// HookCertificateBootstrap is the post-install hook of the reverse proxy.
const HookCertificateBootstrap = "certificate-bootstrap"

func hc(test []string, retries int) *models.HealthCheck {
	return &models.HealthCheck{
		Test:        test,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		StartPeriod: 10 * time.Second,
		Retries:     retries,
	}
}

func vol(name, target string) []models.VolumeBinding {
	return []models.VolumeBinding{{Volume: name, Target: target}}
}

var catalog = map[string]models.ServiceDefinition{
	Caddy: {
		ID: Caddy, Name: "caddy", DisplayName: "Caddy", ServiceType: models.ServiceTypeWeb,
		Description: "Reverse proxy serving project domains over HTTPS",
		Required:    true,
		PostInstall: HookCertificateBootstrap,
		DefaultConfig: models.ServiceConfig{
			Image:         "caddy:2-alpine",
			ContainerName: "damp-web",
			Ports:         []models.PortPair{{External: 80, Internal: 80}, {External: 443, Internal: 443}},
			VolumeBindings: []models.VolumeBinding{
				{Volume: "damp_caddy_data", Target: "/data"},
				{Volume: "damp_caddy_config", Target: "/config"},
			},
		},
	},
	MySQL: {
		ID: MySQL, Name: "mysql", DisplayName: "MySQL", ServiceType: models.ServiceTypeDatabase,
		Description: "MySQL relational database",
		Bundleable:  true,
		DefaultConfig: models.ServiceConfig{
			Image:           "mysql:8.4",
			ContainerName:   "damp-mysql",
			Ports:           []models.PortPair{{External: 3306, Internal: 3306}},
			EnvironmentVars: []string{"MYSQL_ROOT_PASSWORD=rootpassword", "MYSQL_DATABASE=development", "MYSQL_USER=developer", "MYSQL_PASSWORD=developer"},
			VolumeBindings:  vol("damp_mysql_data", "/var/lib/mysql"),
			HealthCheck:     hc([]string{"CMD", "mysqladmin", "ping", "-h", "localhost", "-prootpassword"}, 5),
		},
	},
	MariaDB: {
		ID: MariaDB, Name: "mariadb", DisplayName: "MariaDB", ServiceType: models.ServiceTypeDatabase,
		Description: "MariaDB relational database",
		Bundleable:  true,
		DefaultConfig: models.ServiceConfig{
			Image:           "mariadb:11",
			ContainerName:   "damp-mariadb",
			Ports:           []models.PortPair{{External: 3307, Internal: 3306}},
			EnvironmentVars: []string{"MARIADB_ROOT_PASSWORD=rootpassword", "MARIADB_DATABASE=development", "MARIADB_USER=developer", "MARIADB_PASSWORD=developer"},
			VolumeBindings:  vol("damp_mariadb_data", "/var/lib/mysql"),
			HealthCheck:     hc([]string{"CMD", "healthcheck.sh", "--connect", "--innodb_initialized"}, 5),
		},
	},
	PostgreSQL: {
		ID: PostgreSQL, Name: "postgresql", DisplayName: "PostgreSQL", ServiceType: models.ServiceTypeDatabase,
		Description: "PostgreSQL relational database",
		Bundleable:  true,
		DefaultConfig: models.ServiceConfig{
			Image:           "postgres:17",
			ContainerName:   "damp-postgresql",
			Ports:           []models.PortPair{{External: 5432, Internal: 5432}},
			EnvironmentVars: []string{"POSTGRES_USER=developer", "POSTGRES_PASSWORD=developer", "POSTGRES_DB=development"},
			VolumeBindings:  vol("damp_postgresql_data", "/var/lib/postgresql/data"),
			HealthCheck:     hc([]string{"CMD-SHELL", "pg_isready -U developer"}, 5),
		},
	},
	MongoDB: {
		ID: MongoDB, Name: "mongodb", DisplayName: "MongoDB", ServiceType: models.ServiceTypeDatabase,
		Description: "MongoDB document database",
		Bundleable:  true,
		DefaultConfig: models.ServiceConfig{
			Image:           "mongo:8",
			ContainerName:   "damp-mongodb",
			Ports:           []models.PortPair{{External: 27017, Internal: 27017}},
			EnvironmentVars: []string{"MONGO_INITDB_ROOT_USERNAME=root", "MONGO_INITDB_ROOT_PASSWORD=rootpassword"},
			VolumeBindings:  vol("damp_mongodb_data", "/data/db"),
			HealthCheck:     hc([]string{"CMD", "mongosh", "--quiet", "--eval", "db.adminCommand('ping')"}, 5),
		},
	},
	Redis: {
		ID: Redis, Name: "redis", DisplayName: "Redis", ServiceType: models.ServiceTypeCache,
		Description: "In-memory key value store",
		Bundleable:  true,
		DefaultConfig: models.ServiceConfig{
			Image:          "redis:7-alpine",
			ContainerName:  "damp-redis",
			Ports:          []models.PortPair{{External: 6379, Internal: 6379}},
			VolumeBindings: vol("damp_redis_data", "/data"),
			HealthCheck:    hc([]string{"CMD", "redis-cli", "ping"}, 3),
		},
	},
	Memcached: {
		ID: Memcached, Name: "memcached", DisplayName: "Memcached", ServiceType: models.ServiceTypeCache,
		Description: "Memory object cache",
		Bundleable:  true,
		DefaultConfig: models.ServiceConfig{
			Image:         "memcached:1.6-alpine",
			ContainerName: "damp-memcached",
			Ports:         []models.PortPair{{External: 11211, Internal: 11211}},
		},
	},
	Mailpit: {
		ID: Mailpit, Name: "mailpit", DisplayName: "Mailpit", ServiceType: models.ServiceTypeEmail,
		Description:    "Email testing tool with web UI",
		Bundleable:     true,
		ProxySubdomain: "mail",
		ProxyPort:      8025,
		DefaultConfig: models.ServiceConfig{
			Image:         "axllent/mailpit:latest",
			ContainerName: "damp-mailpit",
			Ports:         []models.PortPair{{External: 1025, Internal: 1025}, {External: 8025, Internal: 8025}},
		},
	},
	Meilisearch: {
		ID: Meilisearch, Name: "meilisearch", DisplayName: "Meilisearch", ServiceType: models.ServiceTypeSearch,
		Description: "Full text search engine",
		Bundleable:  true,
		DefaultConfig: models.ServiceConfig{
			Image:           "getmeili/meilisearch:v1.12",
			ContainerName:   "damp-meilisearch",
			Ports:           []models.PortPair{{External: 7700, Internal: 7700}},
			EnvironmentVars: []string{"MEILI_MASTER_KEY=masterKey", "MEILI_NO_ANALYTICS=true"},
			VolumeBindings:  vol("damp_meilisearch_data", "/meili_data"),
			HealthCheck:     hc([]string{"CMD", "curl", "-f", "http://localhost:7700/health"}, 3),
		},
	},
	Typesense: {
		ID: Typesense, Name: "typesense", DisplayName: "Typesense", ServiceType: models.ServiceTypeSearch,
		Description: "Typo tolerant search engine",
		Bundleable:  true,
		DefaultConfig: models.ServiceConfig{
			Image:           "typesense/typesense:27.1",
			ContainerName:   "damp-typesense",
			Ports:           []models.PortPair{{External: 8108, Internal: 8108}},
			EnvironmentVars: []string{"TYPESENSE_API_KEY=xyz", "TYPESENSE_DATA_DIR=/data"},
			VolumeBindings:  vol("damp_typesense_data", "/data"),
		},
	},
	RabbitMQ: {
		ID: RabbitMQ, Name: "rabbitmq", DisplayName: "RabbitMQ", ServiceType: models.ServiceTypeQueue,
		Description:    "Message broker with management UI",
		Bundleable:     true,
		ProxySubdomain: "rabbitmq",
		ProxyPort:      15672,
		DefaultConfig: models.ServiceConfig{
			Image:           "rabbitmq:4-management-alpine",
			ContainerName:   "damp-rabbitmq",
			Ports:           []models.PortPair{{External: 5672, Internal: 5672}, {External: 15672, Internal: 15672}},
			EnvironmentVars: []string{"RABBITMQ_DEFAULT_USER=developer", "RABBITMQ_DEFAULT_PASS=developer"},
			VolumeBindings:  vol("damp_rabbitmq_data", "/var/lib/rabbitmq"),
			HealthCheck:     hc([]string{"CMD", "rabbitmq-diagnostics", "-q", "ping"}, 5),
		},
	},
	MinIO: {
		ID: MinIO, Name: "minio", DisplayName: "MinIO", ServiceType: models.ServiceTypeStorage,
		Description:    "S3 compatible object storage",
		Bundleable:     true,
		ProxySubdomain: "minio",
		ProxyPort:      9001,
		DefaultConfig: models.ServiceConfig{
			Image:           "minio/minio:latest",
			ContainerName:   "damp-minio",
			Ports:           []models.PortPair{{External: 9000, Internal: 9000}, {External: 9001, Internal: 9001}},
			EnvironmentVars: []string{"MINIO_ROOT_USER=developer", "MINIO_ROOT_PASSWORD=developer"},
			VolumeBindings:  vol("damp_minio_data", "/data"),
			Command:         []string{"server", "/data", "--console-address", ":9001"},
		},
	},
	PhpMyAdmin: {
		ID: PhpMyAdmin, Name: "phpmyadmin", DisplayName: "phpMyAdmin", ServiceType: models.ServiceTypeDatabase,
		Description:           "Web administration for MySQL",
		LinkedDatabaseService: MySQL,
		ProxySubdomain:        "phpmyadmin",
		ProxyPort:             80,
		DefaultConfig: models.ServiceConfig{
			Image:           "phpmyadmin:latest",
			ContainerName:   "damp-phpmyadmin",
			Ports:           []models.PortPair{{External: 8080, Internal: 80}},
			EnvironmentVars: []string{"PMA_HOST=damp-mysql", "PMA_PORT=3306", "UPLOAD_LIMIT=512M"},
		},
	},
	Adminer: {
		ID: Adminer, Name: "adminer", DisplayName: "Adminer", ServiceType: models.ServiceTypeDatabase,
		Description:           "Lightweight database administration",
		LinkedDatabaseService: PostgreSQL,
		ProxySubdomain:        "adminer",
		ProxyPort:             8080,
		DefaultConfig: models.ServiceConfig{
			Image:           "adminer:latest",
			ContainerName:   "damp-adminer",
			Ports:           []models.PortPair{{External: 8081, Internal: 8080}},
			EnvironmentVars: []string{"ADMINER_DEFAULT_SERVER=damp-postgresql"},
		},
	},
}

// Get returns a copy of the definition for id.
func Get(id string) (*models.ServiceDefinition, bool) {
	def, ok := catalog[id]
	if !ok {
		return nil, false
	}
	c := clone(def)
	return &c, true
}

// All returns every definition sorted by ID.
func All() []*models.ServiceDefinition {
	out := make([]*models.ServiceDefinition, 0, len(catalog))
	for _, def := range catalog {
		c := clone(def)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByType returns the definitions of one service type.
func ByType(t models.ServiceType) []*models.ServiceDefinition {
	var out []*models.ServiceDefinition
	for _, def := range All() {
		if def.ServiceType == t {
			out = append(out, def)
		}
	}
	return out
}

// Bundleable returns definitions that can be scoped to a project.
func Bundleable() []*models.ServiceDefinition {
	var out []*models.ServiceDefinition
	for _, def := range All() {
		if def.Bundleable {
			out = append(out, def)
		}
	}
	return out
}

// ProxySubdomains maps service IDs to their proxy subdomain.
func ProxySubdomains() map[string]string {
	out := make(map[string]string)
	for id, def := range catalog {
		if def.ProxySubdomain != "" {
			out[id] = def.ProxySubdomain
		}
	}
	return out
}

func clone(def models.ServiceDefinition) models.ServiceDefinition {
	def.DefaultConfig = MergeConfig(def.DefaultConfig, nil)
	return def
}
