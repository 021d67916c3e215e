/*
Package detector talks to an external pose landmark worker process.

The worker reads requests from stdin and writes responses to stdout. Every
message is a 4-byte big-endian length followed by a msgpack map:

	request:  {"seq": 12, "width": 1280, "height": 720, "frame_data": <JPEG bytes>}
	response: {"seq": 12, "landmarks": [[x, y, z, visibility, presence], ...]}

Rows are indexed by joint. Trailing visibility and presence may be omitted
and default to 1; a joint with zero presence is treated as not detected.
An empty landmarks list means no pose was found in the frame. A response
carrying an "error" string reports a worker-side failure for that frame.
Anything the worker prints to stderr is forwarded to slog.

A Pool owns one or more workers for the duration of a single video session
and must be closed on every exit path so the processes are reaped.
*/
package detector
