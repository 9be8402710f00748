// Package damp runs local PHP development environments on Docker.
//
// # Overview
//
// DAMP keeps a catalog of shared development services (databases, caches,
// mail catchers, a reverse proxy) and per-project PHP dev containers on the
// local Docker daemon. Every container and volume it creates carries
// com.damp.* labels, which lets it find its own resources again, tell
// orphans from live ones and detect configuration drift.
//
// The module consists of these main components:
//   - Docker layer: images, containers, volumes, exec, archives, logs
//   - Services: install, uninstall and lifecycle of catalog services
//   - Projects: folder, volume and devcontainer pipeline per project
//   - Resources: orphan and drift reconciliation, pruning
//   - Events: resilient Docker event subscription with backoff
//   - API Server: Echo REST API with websocket relays
//
// # Architecture
//
//	┌─────────────────┐       ┌─────────────────┐
//	│   CLI (cobra)   │       │  API Server     │
//	│                 │       │  (Echo REST/WS) │
//	└────────┬────────┘       └────────┬────────┘
//	         │                         │
//	┌────────▼─────────────────────────▼────────┐
//	│   Services · Projects · Resources · Certs │
//	└────────┬─────────────────────────┬────────┘
//	         │                         │
//	┌────────▼────────┐       ┌────────▼────────┐
//	│  Docker Manager │       │  State Store    │
//	│  (Engine API)   │       │  (YAML file)    │
//	└─────────────────┘       └─────────────────┘
//
// # Usage
//
// Install and start a database:
//
//	damp service install mysql --start
//
// Create a Laravel project with a bundled Redis:
//
//	damp project create shop --type laravel --php 8.3 --with redis
//
// Find and remove orphaned resources:
//
//	damp resources list --orphans
//	damp resources prune
//
// Start the API server:
//
//	damp serve --config ~/.damp/damp.yaml
//
// # Configuration
//
// Configuration can be provided via:
//   - YAML file (./damp.yaml, ./configs/damp.yaml or ~/.damp/damp.yaml)
//   - Environment variables (DAMP_ prefix)
//   - .env file
//
// Example configuration:
//
//	docker:
//	  network: damp-network
//	  stop_timeout: 10s
//	server:
//	  host: 127.0.0.1
//	  port: 8095
//	logging:
//	  level: info
//	  format: text
//
// # API Endpoints
//
// Services:
//   - GET    /api/v1/services                          - Catalog with state
//   - GET    /api/v1/services/:id                      - One service
//   - POST   /api/v1/services/:id/install              - Install
//   - DELETE /api/v1/services/:id                      - Uninstall
//   - POST   /api/v1/services/:id/start|stop|restart   - Lifecycle
//   - GET    /api/v1/services/:id/databases            - List databases
//   - GET    /api/v1/services/:id/databases/:db/dump   - Dump a database
//   - POST   /api/v1/services/:id/databases/:db/restore - Restore a dump
//
// Projects:
//   - GET    /api/v1/projects            - List projects
//   - POST   /api/v1/projects            - Create or import a project
//   - PUT    /api/v1/projects/:id        - Update a project
//   - DELETE /api/v1/projects/:id        - Delete a project
//   - POST   /api/v1/projects/:id/start  - Start the dev container
//   - POST   /api/v1/projects/:id/stop   - Stop the dev container
//   - POST   /api/v1/projects/:id/sync   - Copy the volume back into the folder
//
// Resources:
//   - GET    /api/v1/resources            - Managed containers and volumes
//   - DELETE /api/v1/resources/:type/:id  - Delete one resource
//   - POST   /api/v1/resources/prune      - Remove orphans
//
// WebSocket:
//   - GET /ws/events                        - Docker events, status, progress
//   - GET /api/v1/containers/:ref/logs      - Live container logs
//
// # Development
//
// Run tests:
//
//	go test ./...
//
// Build the binary:
//
//	go build -o damp ./cmd/damp
package damp
