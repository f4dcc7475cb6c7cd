// Package server provides HTTP routing, middleware, and the JSON API over search, stream resolution and the playback queue.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation registers "METHOD /path" patterns on an [http.ServeMux].
//
// # Endpoints
//
//	GET    /api/search?q=&type=&offset=&limit=&provider=
//	GET    /api/stream?track_id=&provider=&quality=
//	GET    /api/queue
//	POST   /api/queue                 load or append, optionally start playback
//	DELETE /api/queue
//	POST   /api/queue/next
//	POST   /api/queue/previous
//	POST   /api/queue/jump?index=
//	POST   /api/queue/shuffle[?reshuffle=true]
//	POST   /api/queue/loop[?mode=&count=]
//	POST   /api/queue/save?name=
//	POST   /api/queue/restore?name=
//	GET    /healthz
//	GET    /metrics
//
// Every queue endpoint answers with a [NowPlayingView]. Errors are {"error", "status"} bodies
// with the status chosen from the engine's sentinel errors.
//
// # Playback
//
// The server never decodes audio. Its controller hands stream URLs to a [RemoteSink]
// and the client plays the URL it gets back.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
