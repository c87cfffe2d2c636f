package script

// builtinGlobals are names provided by the language or the browser. Renaming
// any of them would turn a reference to the host environment into an
// undefined variable.
var builtinGlobals = []string{
	// language
	"undefined", "NaN", "Infinity", "globalThis", "arguments", "eval",
	"Object", "Function", "Array", "String", "Number", "Boolean", "Symbol",
	"BigInt", "Date", "RegExp", "Math", "JSON", "Reflect", "Proxy", "Promise",
	"Map", "Set", "WeakMap", "WeakSet", "WeakRef", "FinalizationRegistry",
	"Error", "TypeError", "RangeError", "SyntaxError", "ReferenceError",
	"EvalError", "URIError", "AggregateError", "Intl", "Atomics",
	"ArrayBuffer", "SharedArrayBuffer", "DataView", "Int8Array", "Uint8Array",
	"Uint8ClampedArray", "Int16Array", "Uint16Array", "Int32Array",
	"Uint32Array", "Float32Array", "Float64Array", "BigInt64Array",
	"BigUint64Array", "parseInt", "parseFloat", "isNaN", "isFinite",
	"encodeURI", "encodeURIComponent", "decodeURI", "decodeURIComponent",
	"escape", "unescape",

	// browser
	"window", "self", "document", "navigator", "location", "history",
	"screen", "console", "localStorage", "sessionStorage", "indexedDB",
	"caches", "crypto", "performance", "fetch", "XMLHttpRequest", "WebSocket",
	"EventSource", "Worker", "SharedWorker", "setTimeout", "clearTimeout",
	"setInterval", "clearInterval", "requestAnimationFrame",
	"cancelAnimationFrame", "requestIdleCallback", "cancelIdleCallback",
	"queueMicrotask", "structuredClone", "alert", "confirm", "prompt",
	"atob", "btoa", "getComputedStyle", "matchMedia", "getSelection",
	"customElements", "Event", "CustomEvent", "EventTarget", "KeyboardEvent",
	"MouseEvent", "Node", "NodeList", "Element", "HTMLElement", "Document",
	"DocumentFragment", "Text", "Image", "Audio", "Option", "URL",
	"URLSearchParams", "FormData", "Headers", "Request", "Response", "Blob",
	"File", "FileReader", "AbortController", "AbortSignal", "TextEncoder",
	"TextDecoder", "MutationObserver", "IntersectionObserver",
	"ResizeObserver", "DOMParser", "Notification", "BroadcastChannel",
	"MessageChannel", "opener", "parent", "top", "frames", "name",
	"innerWidth", "innerHeight", "scrollX", "scrollY", "devicePixelRatio",
	"onload", "onerror", "onresize", "onscroll",

	// loaders and common libraries
	"require", "module", "exports", "define", "process", "global",
	"jQuery", "$", "_",
}
