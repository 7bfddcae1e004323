// Package notify fans shutdown notices out to registered local services and
// collects their acknowledgements within a bounded window, and pushes
// operator notifications to ntfy when a topic is configured.
package notify
