// Package api provides REST API handlers for chainweave
// @title chainweave API
// @version 1.0
// @description Read-only REST API for querying the indexing engine's checkpoint state and indexed tables
// @contact.name API Support
// @contact.url https://github.com/ordinalworks/chainweave
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html
// @host localhost:8080
// @basePath /api/v1
// @schemes http https
// @x-logo {"url":"https://github.com/ordinalworks/chainweave/raw/main/logo.png"}
package api
