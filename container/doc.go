// Package container implements the msgline container: a routing header plus an
// ordered list of typed fields, and the text codec that puts it on the wire.
//
// A serialized container looks like this:
//
//	@header={[1,server];[2,];[3,echo_client];[4,];[5,echo_test];[6,1.0.0.0];};
//	@data={[connection_key,d,echo_network];[auto_echo,1,false];[snipping_targets,e,0];};
//
// Header entries are keyed by a numeric id (1 target_id, 2 target_sub_id,
// 3 source_id, 4 source_sub_id, 5 message_type, 6 version). Data entries are
// [name,tag,value] triples where the single character tag selects the value
// kind. Tag 'e' holds nested fields: a child count optionally followed by the
// children in braces, e.g. [targets,e,2{[,d,alpha];[,d,beta];}].
//
// The delimiter characters \ ; , [ ] { } are escaped with a backslash when
// they occur in names or values. Decoding rejects unescaped delimiters inside
// a name or value.
//
// The codec keeps no references: Encode returns a fresh byte slice and Decode
// copies everything it needs out of its input.
package container
