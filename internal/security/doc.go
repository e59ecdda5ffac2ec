// Package security derives a configuration posture report for the session
// core. It reads plain values only and never touches stores or keys.
package security
