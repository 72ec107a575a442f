// Package api exposes a document store over HTTP.
//
// Every request gets its own domain.RequestContext. Backend calls made while
// serving the request fold their session token and request charge into the
// context's response headers, which are copied onto the HTTP response before
// the status line is written.
package api
