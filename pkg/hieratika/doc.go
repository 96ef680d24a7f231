// Package hieratika provides a typed Go client for the Hieratika plant
// configuration server.
//
// # Overview
//
// The server stores plant variables, schedules (named sets of variable values
// a user edits and commits) and libraries (reusable groups of values). Clients
// talk to it in two ways:
//
//   - request/response: one form-encoded HTTP POST per operation, authenticated
//     with the token returned by Login;
//   - server push: a text/event-stream carrying JSON messages whenever a
//     variable changes in the plant, in a schedule, or in a live variable.
//
// Client covers the first, Stream the second. Relay republishes push messages
// through Redis Pub/Sub so that many consumers can share a single upstream
// stream connection.
//
// # Reply codes
//
// The server answers with either a JSON document or one of the plain text
// codes (ok, InvalidToken, InvalidParameters, UnknownError, InUse, NotFound).
// Client maps the rejection codes to sentinel errors:
//
//	sched, err := client.GetSchedule(ctx, uid)
//	switch {
//	case errors.Is(err, hieratika.ErrInvalidToken):
//		// session gone; registered OnInvalidToken listeners already ran
//	case errors.Is(err, hieratika.ErrNotFound):
//		// ...
//	}
//
// # Push messages
//
// Every message falls into exactly one Kind (see Message.Kind): Reset,
// Transformation, Live, Schedule or Plant. Routing values to the widgets bound
// to each variable name is done by the dispatcher, not by this package.
//
//	sub, err := hieratika.NewStream(client).Subscribe(ctx)
//	if err != nil {
//		return err
//	}
//	defer sub.Close()
//	for msg := range sub.Events() {
//		fmt.Println(msg.Kind(), len(msg.Variables))
//	}
package hieratika
