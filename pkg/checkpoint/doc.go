// Package checkpoint persists in-flight task progress so an interrupted run
// can resume where it stopped.
//
// A Store holds one opaque JSON payload per task name. Two backends exist:
//
// - FileStore: one JSON file per task below a recovery directory
// - RedisStore: one key per task, "<prefix>:checkpoint:<task>"
//
// The store never inspects payloads. A payload reloaded with Load must
// decode into exactly the shape the task wrote.
//
// # Sessions
//
// A task registers its progress with Registry.Begin and gets a Session back.
// The Registry keeps every active session so the runner can flush all of them
// on interrupt or on an unrecoverable failure:
//
//	sess, err := registry.Begin(ctx, "forums", progress.Snapshot)
//	if err != nil {
//		return err
//	}
//	defer sess.Release()
//
//	for ... {
//		// work, then periodically
//		if err := sess.Flush(ctx); err != nil {
//			logger.Warn().Err(err).Msg("Checkpoint write failed")
//		}
//	}
//	return sess.Complete(ctx)
//
// Only one session per task name may be active. Release is idempotent and
// never deletes the checkpoint; Complete deletes it and releases.
//
// # Metrics
//
//   - sitebackup_checkpoint_writes_total{backend,result} - checkpoint writes
package checkpoint
