// Package config defines configuration for the objstream CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (OBJSTREAM_ prefix)
//   - YAML configuration file (default ~/.objstream/config.yaml)
//
// Later sources override earlier ones; flags win. Sizes accept IEC or SI
// suffixes ("16MiB", "5MB") and durations use Go syntax ("2s", "168h").
//
// # File Format
//
//	api_server: https://api.example.com
//	token: ...
//	project: project-xyz
//	transfer:
//	  part_size: 64MiB
//	  upload_concurrency: 8
//	  read_chunk_size: 16MiB
//	  read_concurrency: 8
//	  poll_interval: 2s
//	  close_timeout: 168h
//	retry:
//	  attempts: 5
//	  unit: 1s
//	  timeout: 600s
//	log:
//	  level: info
//	  format: console
package config
