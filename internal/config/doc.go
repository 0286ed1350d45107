// Package config loads and validates capture process configuration.
//
// Configuration is YAML with ${ENV} substitution for secrets (venue API
// keys, database passwords). Missing required fields fail validation at
// startup, before any pipeline task begins: a partially started process
// would leave some symbols uncaptured invisibly.
package config
