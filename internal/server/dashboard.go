package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// The dashboard records from the browser microphone and streams 16 kHz mono
// PCM, preceded by a streaming WAV header, to /ws/audio once the session
// reports recording.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>ScamShield</title>
    <link rel="icon" href="data:image/svg+xml,<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 100 100'><text y='.9em' font-size='90'>◈</text></svg>">
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        :root {
            --bg: #09090b; --bg-subtle: #18181b; --border: #27272a;
            --text: #fafafa; --text-secondary: #a1a1aa;
            --safe: #22c55e; --medium: #eab308; --high: #f97316; --critical: #ef4444;
        }
        body { font-family: system-ui, sans-serif; background: var(--bg); color: var(--text); padding: 32px; max-width: 880px; margin: 0 auto; }
        h1 { font-size: 20px; font-weight: 600; margin-bottom: 24px; }
        .card { background: var(--bg-subtle); border: 1px solid var(--border); border-radius: 8px; padding: 20px; margin-bottom: 16px; }
        .row { display: flex; gap: 12px; align-items: center; flex-wrap: wrap; }
        .muted { color: var(--text-secondary); font-size: 13px; }
        button { background: var(--text); color: var(--bg); border: 0; border-radius: 6px; padding: 8px 16px; font-weight: 500; cursor: pointer; }
        button:disabled { opacity: .4; cursor: default; }
        button.ghost { background: transparent; color: var(--text); border: 1px solid var(--border); }
        select { background: var(--bg); color: var(--text); border: 1px solid var(--border); border-radius: 6px; padding: 7px; }
        .state { font-family: monospace; text-transform: uppercase; letter-spacing: .05em; }
        .level-safe { color: var(--safe); } .level-medium { color: var(--medium); }
        .level-high { color: var(--high); } .level-critical { color: var(--critical); }
        #alert { display: none; border-color: var(--critical); }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        td, th { text-align: left; padding: 6px 4px; border-bottom: 1px solid var(--border); }
    </style>
</head>
<body>
    <h1>ScamShield</h1>

    <div class="card" id="alert">
        <div class="row"><strong class="level-critical">Possible scam</strong><span class="muted" id="alert-score"></span></div>
        <p id="alert-summary" style="margin:8px 0"></p>
        <p class="muted" id="alert-suggestion"></p>
        <div class="row" style="margin-top:12px">
            <button onclick="closeAlert('review')">Mark reviewed</button>
            <button class="ghost" onclick="closeAlert('dismiss')">Dismiss</button>
        </div>
    </div>

    <div class="card">
        <div class="row">
            <button id="start" onclick="startSession()">Record</button>
            <button id="stop" class="ghost" onclick="stopSession()" disabled>Stop &amp; analyze</button>
            <button class="ghost" onclick="api('DELETE', '/v1/session')">Reset</button>
            <select id="backend" onchange="api('PUT', '/v1/session/backend', {backend: this.value})"></select>
            <span class="state" id="state">idle</span>
        </div>
        <p class="muted" id="detail" style="margin-top:12px"></p>
    </div>

    <div class="card">
        <div class="row" style="justify-content:space-between"><strong>Recent calls</strong><span class="muted" id="stats"></span></div>
        <table><thead><tr><th>When</th><th>Level</th><th>Score</th><th>Scam</th><th>Speakers</th></tr></thead><tbody id="history"></tbody></table>
    </div>

    <script>
        let audioSocket = null, audioCtx = null, processor = null, stream = null, sending = false;

        async function api(method, path, body) {
            const res = await fetch(path, {method, headers: {'Content-Type': 'application/json'}, body: body ? JSON.stringify(body) : undefined});
            const data = await res.json().catch(() => ({}));
            if (!res.ok && data.message) document.getElementById('detail').textContent = data.message;
            return data;
        }

        function wavHeader(rate) {
            const b = new DataView(new ArrayBuffer(44));
            const str = (o, s) => [...s].forEach((c, i) => b.setUint8(o + i, c.charCodeAt(0)));
            str(0, 'RIFF'); b.setUint32(4, 0xFFFFFFFF, true); str(8, 'WAVE');
            str(12, 'fmt '); b.setUint32(16, 16, true); b.setUint16(20, 1, true); b.setUint16(22, 1, true);
            b.setUint32(24, rate, true); b.setUint32(28, rate * 2, true); b.setUint16(32, 2, true); b.setUint16(34, 16, true);
            str(36, 'data'); b.setUint32(40, 0xFFFFFFFF, true);
            return b.buffer;
        }

        async function openMicrophone() {
            if (audioSocket) return;
            stream = await navigator.mediaDevices.getUserMedia({audio: {channelCount: 1, echoCancellation: true, noiseSuppression: true}});
            audioCtx = new AudioContext({sampleRate: 16000});
            const source = audioCtx.createMediaStreamSource(stream);
            processor = audioCtx.createScriptProcessor(4096, 1, 1);
            processor.onaudioprocess = e => {
                if (!sending || audioSocket.readyState !== WebSocket.OPEN) return;
                const f = e.inputBuffer.getChannelData(0), pcm = new Int16Array(f.length);
                for (let i = 0; i < f.length; i++) pcm[i] = Math.max(-1, Math.min(1, f[i])) * 0x7FFF;
                audioSocket.send(pcm.buffer);
            };
            source.connect(processor); processor.connect(audioCtx.destination);
            audioSocket = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws/audio');
            audioSocket.binaryType = 'arraybuffer';
            await new Promise((ok, fail) => { audioSocket.onopen = ok; audioSocket.onerror = fail; });
            audioSocket.onclose = () => { audioSocket = null; sending = false; };
        }

        async function startSession() {
            try { await openMicrophone(); } catch (e) {
                document.getElementById('detail').textContent = 'Failed to access microphone. Please check permissions.';
                return;
            }
            await api('POST', '/v1/session/start');
        }

        async function stopSession() { await api('POST', '/v1/session/stop'); }
        async function closeAlert(action) { await api('POST', '/v1/alert/' + action); }

        function render(s) {
            sending = s.state === 'recording';
            document.getElementById('state').textContent = s.state;
            document.getElementById('start').disabled = ['recording', 'encoding', 'analyzing'].includes(s.state);
            document.getElementById('stop').disabled = s.state !== 'recording';
            const d = document.getElementById('detail');
            if (s.error) d.textContent = s.error.message;
            else if (s.result) d.innerHTML = '<span class="level-' + s.result.risk_level + '">' + s.result.risk_level.toUpperCase() +
                '</span> ' + (s.result.summary || '') + (s.result.suggestion ? '<br>' + s.result.suggestion : '');
            else if (s.state === 'idle') d.textContent = '';
        }

        function renderAlert(a) {
            const el = document.getElementById('alert');
            if (!a || a.state !== 'open') { el.style.display = 'none'; return; }
            el.style.display = 'block';
            document.getElementById('alert-score').textContent = Math.round(a.risk_score * 100) + '% · ' + a.risk_level;
            document.getElementById('alert-summary').textContent = a.summary || '';
            document.getElementById('alert-suggestion').textContent = a.suggestion || a.logic_reason || '';
        }

        async function loadHistory() {
            const [h, st] = await Promise.all([api('GET', '/v1/history'), api('GET', '/v1/history/stats')]);
            document.getElementById('history').innerHTML = (h.entries || []).map(e =>
                '<tr><td>' + new Date(e.timestamp).toLocaleTimeString() + '</td><td class="level-' + e.risk_level + '">' + e.risk_level +
                '</td><td>' + e.risk_score.toFixed(2) + '</td><td>' + (e.scam_detected ? 'yes' : 'no') + '</td><td>' + e.speakers + '</td></tr>').join('');
            document.getElementById('stats').textContent = st.total + ' calls · ' + st.scam_count + ' flagged';
        }

        function connectEvents() {
            const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
            ws.onmessage = m => {
                const ev = JSON.parse(m.data);
                if (ev.type === 'session.state') {
                    if (ev.data.state === 'recording' && !sending && audioSocket) audioSocket.send(wavHeader(16000));
                    render(ev.data);
                }
                if (ev.type === 'session.resolved') loadHistory();
                if (ev.type.startsWith('alert.')) renderAlert(ev.data);
            };
            ws.onclose = () => setTimeout(connectEvents, 2000);
        }

        (async () => {
            const info = await api('GET', '/v1/info');
            const sel = document.getElementById('backend');
            (info.backends || []).forEach(b => sel.add(new Option(b, b, false, b === info.default_backend)));
            render(await api('GET', '/v1/session'));
            const a = await fetch('/v1/alert');
            if (a.ok) renderAlert(await a.json());
            loadHistory();
            connectEvents();
        })();
    </script>
</body>
</html>`

// dashboardHandler serves the single-page recorder and monitor.
func dashboardHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, dashboardHTML)
}
