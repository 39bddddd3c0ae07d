// Package internal contains the implementation packages of the assetpipe CLI.
//
// # Package Organization
//
//   - catalog: the fixed category table, glob resolution and matching
//   - clean: removal of one category's previous output
//   - pipeline: per-category step lists that read sources and write dist/
//   - transform: sass, prefixing, minification and image compression
//   - orchestrator: clean, rebuild, notify per category; watch sessions
//   - watcher: debounced recursive fsnotify watching
//   - livereload: websocket hub and the browser client script
//   - proxy: the development server fronting proxyUrl
//   - config, logging, errors, metrics, version: ambient services
//
// # Data Flow
//
//   - watcher batches file events and hands them to the session
//   - the session maps paths to categories through the catalog and
//     triggers one task per category
//   - each task runs clean, then the pipeline, then notifies the hub
//   - the hub broadcasts css_update or full_reload to browsers loaded
//     through the proxy
//
// Categories never share destination files, so their tasks run
// concurrently without locks. Categories that share a destination directory
// leave emptied subdirectories in place when cleaned.
package internal
