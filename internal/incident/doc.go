// Package incident provides the business boundary for Klaxon's incident
// alerting system. It defines the Engine (raise/acknowledge/resolve/escalate
// lifecycle), the Classifier (severity rules), the dedup guard and maintenance
// window gate, the escalation Scheduler, the Store and Dispatcher interfaces,
// and the domain models.
package incident
