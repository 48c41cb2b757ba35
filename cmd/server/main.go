// @title          Suno Proxy API
// @version        1.0
// @description    Suno-compatible music generation API with background jobs.
// @BasePath       /
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
package main

func main() {
	Execute()
}
