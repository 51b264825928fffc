// Package shadow implements the desired/reported state document shared
// between the master brain and the devices.
//
// The protocol runs over MQTT with the topic layout
//
//	$aws/things/{thing}/shadow/{get|update}
//	$aws/things/{thing}/shadow/{get|update}/{accepted|rejected}
//	$aws/things/{thing}/shadow/update/delta
//
// A Handler is the device side: it issues get and update requests tagged
// with a clientToken and routes the matching accepted/rejected reply, or
// the RequestTimeout sentinel, to the request's callback. It also
// delivers every delta to a single registered callback.
//
// A Service is the brain side: it owns one Document per thing, persists
// it through a Store, answers requests and publishes a delta whenever the
// desired state diverges from the reported state.
package shadow
