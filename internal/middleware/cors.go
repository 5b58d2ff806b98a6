package middleware

import "github.com/go-chi/cors"

// CORS allows the browser client to call the API from any origin and answers
// preflight requests directly.
var CORS = cors.Handler(cors.Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
	AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
	MaxAge:         300,
})
