// Package password implements Argon2id password hashing with a PHC-style
// encoding and a small, env-tunable policy layer.
//
// Hash format:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Verify refuses hashes whose cost parameters wildly exceed the configured
// limits, so attacker-controlled hash strings cannot drive pathological
// resource usage.
package password
