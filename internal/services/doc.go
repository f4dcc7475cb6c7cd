// Package services defines the [Provider] contract for music streaming catalogs and implements it for Qobuz, Spotify and YouTube Music.
//
// # Provider Interface
//
// Every catalog is searched, resolved and browsed through the same abstraction, so the
// aggregator, resolver and queue never see provider payloads. Results are normalized into
// [models.Track], [models.Album] and [models.PlaylistSearchResult].
//
// # Qobuz Implementation
//
// [QobuzService] signs track/getFileUrl requests with an MD5 of the request parameters,
// a timestamp and the app secret. Without a user token every stream is capped to MP3 320.
//
// # Spotify Implementation
//
// [SpotifyService] uses OAuth2 for authentication with automatic token refresh.
//
// Refreshed tokens are reported through [SpotifyService.SetTokenRefreshCallback] so the CLI can
// persist them. Without a user session the client credentials grant is used. Only 30 second
// previews are streamable.
//
// # YouTube Music Implementation
//
// [YouTubeService] communicates with the FastAPI proxy server (music/) wrapping ytmusicapi.
// The auth_file path is sent via X-Auth-File header on each request.
//
// # Error Handling
//
// Every operation returns [*ProviderError] with one of five kinds:
//   - [KindNetwork] : transport failure, 5xx or cancellation
//   - [KindRateLimited] : 429, with RetryAfter when the provider sends it
//   - [KindAuthExpired] : 401/403 or a failed token refresh
//   - [KindNotFound] : 404 or no playable stream
//   - [KindMalformed] : a response body that could not be decoded
//
// Kinds match their sentinels with [errors.Is], e.g. errors.Is(err, [ErrRateLimited]).
//
// # Decoding
//
// List payloads are decoded item by item. A bad track or album is logged and dropped; a bad
// playlist keeps its position as a placeholder entry.
package services
