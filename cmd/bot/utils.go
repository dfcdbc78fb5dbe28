package main

// shortID returns the first 8 bytes of id, or id unchanged when it is 8 bytes
// or shorter
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}