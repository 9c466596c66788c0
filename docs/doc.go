// Package docs provides generated OpenAPI documentation.
//
// Straighten API
//
//	@title			Straighten API
//	@version		1.0
//	@description	Page rectification API: upload scanned PDFs, detect page corners, deskew and crop pages, export.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/straighten
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/straighten/serve.go -o ./swagger --parseDependency --parseInternal
