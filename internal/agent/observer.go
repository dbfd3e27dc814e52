package agent

import "strings"

const observerSource = `(function(){
if (window.__flowrecObserver) { return "active"; }
var send = window[%BINDING%];
if (typeof send !== "function") { return "no-binding"; }
var PRIORITY = ["data-testid","name","aria-label","placeholder","title","alt"];
var NOT_EDITABLE = ["button","submit","reset","image","file","hidden","checkbox","radio","range","color"];
var ids = new WeakMap();
var base = Date.now() * 1000;
var next = 0;
function nodeId(el) {
  var id = ids.get(el);
  if (!id) { id = base + (++next); ids.set(el, id); }
  return id;
}
function editable(el) {
  if (!el || el.nodeType !== 1) return false;
  if (el.isContentEditable) return true;
  var t = el.tagName;
  if (t === "TEXTAREA" || t === "SELECT") return true;
  if (t === "INPUT") return NOT_EDITABLE.indexOf(String(el.type || "text").toLowerCase()) < 0;
  return false;
}
function valueOf(el) {
  if (el.isContentEditable) return el.textContent || "";
  return el.value == null ? "" : String(el.value);
}
function label(el) {
  var s = el.getAttribute && (el.getAttribute("aria-label") || el.getAttribute("title")) || "";
  if (!s) s = (el.innerText || el.textContent || "").trim();
  if (!s && el.value != null && !editable(el)) s = String(el.value);
  if (!s && el.getAttribute) s = el.getAttribute("placeholder") || el.getAttribute("alt") || "";
  if (!s) s = el.tagName ? el.tagName.toLowerCase() : "";
  s = s.replace(/\s+/g, " ");
  return s.length > 60 ? s.slice(0, 60) : s;
}
function nth(el) {
  var n = 1;
  for (var s = el.previousElementSibling; s; s = s.previousElementSibling) {
    if (s.tagName === el.tagName) n++;
  }
  return n;
}
function lineage(el) {
  var chain = [];
  var idCounts = {};
  for (var cur = el; cur && cur.nodeType === 1; cur = cur.parentElement) {
    var node = {tag: cur.tagName.toLowerCase(), nth: nth(cur)};
    if (cur.id) { node.id = cur.id; idCounts[cur.id] = 0; }
    if (cur === el) {
      var attrs = {};
      for (var i = 0; i < PRIORITY.length; i++) {
        var v = cur.getAttribute(PRIORITY[i]);
        if (v !== null && v !== "") attrs[PRIORITY[i]] = v;
      }
      node.attrs = attrs;
    }
    chain.push(node);
    if (node.tag === "body") break;
  }
  var attrCounts = [];
  var tag = el.tagName;
  var own = chain.length ? chain[0].attrs || {} : {};
  for (var k in own) {
    if (Object.prototype.hasOwnProperty.call(own, k)) attrCounts.push({tag: tag.toLowerCase(), attr: k, value: own[k], count: 0});
  }
  var all = document.getElementsByTagName("*");
  for (var j = 0; j < all.length; j++) {
    var e = all[j];
    if (e.id && Object.prototype.hasOwnProperty.call(idCounts, e.id)) idCounts[e.id]++;
    if (e.tagName !== tag) continue;
    for (var a = 0; a < attrCounts.length; a++) {
      if (e.getAttribute(attrCounts[a].attr) === attrCounts[a].value) attrCounts[a].count++;
    }
  }
  return {chain: chain, idCounts: idCounts, attrCounts: attrCounts};
}
function emit(kind, el, withLineage) {
  if (!el || el.nodeType !== 1) return;
  var ed = editable(el);
  var ev = {kind: kind, node: nodeId(el), editable: ed, value: ed ? valueOf(el) : "", label: label(el)};
  if (withLineage) ev.lineage = lineage(el);
  try { send(JSON.stringify(ev)); } catch (_) {}
}
function target(e) {
  var t = e.target;
  if (t && t.nodeType === 3) t = t.parentElement;
  return t;
}
var listeners = [
  ["pointerdown", function(e){ emit("pointerdown", target(e), true); }],
  ["focusin", function(e){ emit("focusin", target(e), true); }],
  ["input", function(e){ emit("input", target(e), false); }],
  ["change", function(e){ emit("change", target(e), true); }],
  ["focusout", function(e){ emit("focusout", target(e), false); }]
];
for (var l = 0; l < listeners.length; l++) document.addEventListener(listeners[l][0], listeners[l][1], true);
window.__flowrecObserver = {
  ping: function(){ return "active"; },
  uninstall: function(){
    for (var l = 0; l < listeners.length; l++) document.removeEventListener(listeners[l][0], listeners[l][1], true);
    delete window.__flowrecObserver;
  }
};
return "installed";
})()`

// ObserverSource returns the observer install script. Installing twice in the
// same world is a no-op.
func ObserverSource() string {
	return strings.ReplaceAll(observerSource, "%BINDING%", jsString(ReportBinding))
}

// ObserverPing returns an expression answering Ack when the observer is installed.
func ObserverPing() string {
	return wrapJSEval(`var o = window.__flowrecObserver;
return JSON.stringify({ok:true,data: o ? o.ping() : ""});`)
}

// ObserverUninstall returns an expression that removes the observer's
// listeners from its world. Its data is true when an observer was removed.
func ObserverUninstall() string {
	return wrapJSEval(`var o = window.__flowrecObserver;
if (o) { o.uninstall(); }
return JSON.stringify({ok:true,data: !!o});`)
}
